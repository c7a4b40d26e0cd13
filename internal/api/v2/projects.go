// internal/api/v2/projects.go construction project CRUD
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cybeform/cybemeeting/internal/datastore"
	"github.com/cybeform/cybemeeting/internal/securefs"
)

// ProjectResponse is the public view of a project.
type ProjectResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Client        string    `json:"client,omitempty"`
	Location      string    `json:"location,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	MeetingsCount int64     `json:"meetings_count"`
}

// ProjectRequest is the create and update payload.
type ProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Client      string `json:"client"`
	Location    string `json:"location"`
}

func projectResponse(project *datastore.Project, meetingsCount int64) ProjectResponse {
	return ProjectResponse{
		ID:            project.PublicID,
		Name:          project.Name,
		Description:   project.Description,
		Client:        project.Client,
		Location:      project.Location,
		CreatedAt:     project.CreatedAt,
		MeetingsCount: meetingsCount,
	}
}

func projectCacheKey(userID uint) string {
	return fmt.Sprintf("projects:%d", userID)
}

// ListProjects returns the user's projects, newest first. Listings are
// cached briefly, the frontend polls this endpoint on every page.
func (c *Controller) ListProjects(ctx echo.Context) error {
	user := currentUser(ctx)

	key := projectCacheKey(user.ID)
	if cached, found := c.projectCache.Get(key); found {
		return ctx.JSON(http.StatusOK, cached)
	}

	projects, err := c.DS.GetUserProjects(user.ID)
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la récupération des projets", http.StatusInternalServerError)
	}

	responses := make([]ProjectResponse, 0, len(projects))
	for i := range projects {
		count, err := c.DS.CountProjectMeetings(projects[i].ID)
		if err != nil {
			return c.HandleError(ctx, err, "Erreur lors de la récupération des projets", http.StatusInternalServerError)
		}
		responses = append(responses, projectResponse(&projects[i], count))
	}

	c.projectCache.SetDefault(key, responses)
	return ctx.JSON(http.StatusOK, responses)
}

// CreateProject creates a new construction project.
func (c *Controller) CreateProject(ctx echo.Context) error {
	user := currentUser(ctx)

	var req ProjectRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Requête invalide", http.StatusBadRequest)
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.HandleError(ctx, nil, "Le nom du projet est requis", http.StatusBadRequest)
	}

	project := datastore.Project{
		PublicID:    uuid.New().String(),
		UserID:      user.ID,
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Client:      strings.TrimSpace(req.Client),
		Location:    strings.TrimSpace(req.Location),
	}
	if err := c.DS.CreateProject(&project); err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la création du projet", http.StatusInternalServerError)
	}

	if err := c.SFS.MkdirAll(securefs.ProjectDir(user.PublicID, project.PublicID)); err != nil {
		c.apiLogger.Warn("project directory creation failed", "project_id", project.PublicID, "error", err)
	}

	c.projectCache.Delete(projectCacheKey(user.ID))
	return ctx.JSON(http.StatusCreated, projectResponse(&project, 0))
}

// GetProject returns one project by public ID.
func (c *Controller) GetProject(ctx echo.Context) error {
	user := currentUser(ctx)

	project, err := c.DS.GetProject(user.ID, ctx.Param("id"))
	if err != nil {
		return c.projectNotFound(ctx, err)
	}

	count, err := c.DS.CountProjectMeetings(project.ID)
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la récupération du projet", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, projectResponse(&project, count))
}

// UpdateProject modifies the editable fields of a project.
func (c *Controller) UpdateProject(ctx echo.Context) error {
	user := currentUser(ctx)

	project, err := c.DS.GetProject(user.ID, ctx.Param("id"))
	if err != nil {
		return c.projectNotFound(ctx, err)
	}

	var req ProjectRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Requête invalide", http.StatusBadRequest)
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		project.Name = name
	}
	project.Description = strings.TrimSpace(req.Description)
	project.Client = strings.TrimSpace(req.Client)
	project.Location = strings.TrimSpace(req.Location)

	if err := c.DS.UpdateProject(&project); err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la modification du projet", http.StatusInternalServerError)
	}

	count, err := c.DS.CountProjectMeetings(project.ID)
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la modification du projet", http.StatusInternalServerError)
	}

	c.projectCache.Delete(projectCacheKey(user.ID))
	return ctx.JSON(http.StatusOK, projectResponse(&project, count))
}

// DeleteProject removes a project, its meetings and all stored files.
func (c *Controller) DeleteProject(ctx echo.Context) error {
	user := currentUser(ctx)
	publicID := ctx.Param("id")

	if err := c.DS.DeleteProject(user.ID, publicID); err != nil {
		return c.projectNotFound(ctx, err)
	}

	if err := c.SFS.RemoveAll(securefs.ProjectDir(user.PublicID, publicID)); err != nil {
		c.apiLogger.Warn("project directory removal failed", "project_id", publicID, "error", err)
	}

	c.projectCache.Delete(projectCacheKey(user.ID))
	return ctx.JSON(http.StatusOK, map[string]string{"message": "Projet supprimé avec succès"})
}

// projectNotFound maps datastore errors on project lookups. Projects owned
// by other users answer 404, their existence must not leak.
func (c *Controller) projectNotFound(ctx echo.Context, err error) error {
	if errors.Is(err, datastore.ErrNotFound) {
		return c.HandleError(ctx, nil, "Projet non trouvé", http.StatusNotFound)
	}
	return c.HandleError(ctx, err, "Erreur lors de l'accès au projet", http.StatusInternalServerError)
}
