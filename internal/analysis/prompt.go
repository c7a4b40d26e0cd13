package analysis

import (
	"fmt"
	"strings"

	"github.com/cybeform/cybemeeting/internal/transcription"
)

const separator = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

const basePrompt = `Tu es un expert en analyse de réunions BTP avec 15 ans d'expérience. Tu analyses les transcriptions de réunions pour extraire TOUTES les informations importantes selon un format JSON strict.

PRINCIPES FONDAMENTAUX:
- NE JAMAIS omettre d'informations importantes
- Extraire TOUS les détails techniques, même mineurs
- Capturer TOUTES les décisions, même implicites
- Identifier TOUS les points d'action mentionnés
- Noter TOUS les problèmes soulevés
- Documenter TOUS les aspects budgétaires/planning évoqués

CONTEXTE BTP GÉNÉRAL:
- Focus projets construction, chantiers, planning, matériaux, normes, sécurité
- Identifier problèmes techniques, contraintes réglementaires, autorisations
- Extraire risques spécifiques BTP (sécurité, retards, surcoûts, météo, coordination)
- Distinguer éléments pertinents des bavardages informels`

const qualityRequirements = `QUALITÉ DE L'EXTRACTION:
- Être EXHAUSTIF: aucun détail important omis
- Être PRÉCIS: noms, dates, quantités exactes
- Être CONTEXTUEL: replacer dans le contexte projet
- Distinguer: décisions prises vs points à trancher
- Hiérarchiser: urgent vs important vs informatif
- ADAPTER L'ANALYSE selon les instructions spécifiques de l'utilisateur

EXIGENCES TECHNIQUES:
- Format JSON strict respecté
- Réponse UNIQUEMENT en JSON valide
- Pas de commentaires en dehors du JSON
- Toutes les sections remplies (même si vides)`

// systemPrompt builds the system message, embedding user instructions when
// provided.
func systemPrompt(userInstructions string) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n")

	if trimmed := strings.TrimSpace(userInstructions); trimmed != "" {
		b.WriteString("INSTRUCTIONS SPÉCIFIQUES DE L'UTILISATEUR:\n")
		b.WriteString(separator + "\n")
		b.WriteString(trimmed + "\n")
		b.WriteString(separator + "\n\n")
		b.WriteString("IMPORTANT: Respecte scrupuleusement ces instructions utilisateur dans ton analyse.\n")
		b.WriteString("Adapte ton focus, ton angle d'approche et tes priorités selon ces directives.\n\n")
	}

	b.WriteString(qualityRequirements)
	return b.String()
}

// InferMeetingType deduces the meeting category from the user instructions.
func InferMeetingType(aiInstructions string) string {
	if aiInstructions == "" {
		return "Autre"
	}
	lower := strings.ToLower(aiInstructions)
	switch {
	case strings.Contains(lower, "chantier"):
		return "Réunion de chantier"
	case strings.Contains(lower, "avancement"), strings.Contains(lower, "suivi"):
		return "Point d'avancement"
	case strings.Contains(lower, "coordination"):
		return "Réunion de coordination"
	case strings.Contains(lower, "sécurité"):
		return "Réunion sécurité"
	case strings.Contains(lower, "livraison"):
		return "Réunion de livraison"
	default:
		return "Réunion personnalisée"
	}
}

// formatTranscript renders the aligned transcript as "[MM:SS] SPEAKER: text"
// lines for the prompt.
func formatTranscript(segments []transcription.AlignedSegment) string {
	var lines []string
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		minutes := int(seg.StartTime) / 60
		seconds := int(seg.StartTime) % 60
		lines = append(lines, fmt.Sprintf("[%02d:%02d] %s: %s", minutes, seconds, seg.Speaker, text))
	}
	return strings.Join(lines, "\n")
}

// attendanceAnalysis compares expected and detected participant counts.
func attendanceAnalysis(expected, detected int) string {
	switch {
	case expected == detected:
		return ""
	case detected < expected:
		return fmt.Sprintf("ATTENTION: %d participants attendus mais seulement %d détectés (possibles absences)", expected, detected)
	default:
		return fmt.Sprintf("NOTE: %d participants détectés vs %d attendus (participants supplémentaires)", detected, expected)
	}
}

// analysisPrompt builds the user message with the meeting context, the full
// transcript and the expected JSON layout.
func analysisPrompt(transcript string, meta Metadata) string {
	participants := "Aucun"
	if len(meta.Participants) > 0 {
		participants = strings.Join(meta.Participants, ", ")
	}

	meetingType := InferMeetingType(meta.AIInstructions)
	attendance := attendanceAnalysis(meta.ExpectedSpeakers, len(meta.Participants))

	var b strings.Builder
	b.WriteString("Tu es un expert en analyse de réunions BTP. Analyse EXHAUSTIVEMENT cette transcription et crée un rapport ULTRA-COMPLET qui capture TOUS les points abordés.\n\n")

	b.WriteString("CONTEXTE DE LA RÉUNION:\n")
	b.WriteString(separator + "\n")
	fmt.Fprintf(&b, "Projet: %s\n", orDefault(meta.ProjectName, "Non spécifié"))
	fmt.Fprintf(&b, "Titre: %s\n", orDefault(meta.Title, "Non spécifié"))
	fmt.Fprintf(&b, "Date: %s\n", orDefault(meta.Date, "Non spécifié"))
	fmt.Fprintf(&b, "Durée: %d minutes\n", meta.DurationMinutes)
	fmt.Fprintf(&b, "Participants détectés: %s\n", participants)
	fmt.Fprintf(&b, "Participants attendus: %d\n", meta.ExpectedSpeakers)
	if attendance != "" {
		b.WriteString(attendance + "\n")
	}
	if instructions := strings.TrimSpace(meta.AIInstructions); instructions != "" {
		fmt.Fprintf(&b, "Instructions utilisateur: %s\n", instructions)
	}
	b.WriteString(separator + "\n\n")

	b.WriteString(`MISSION CRITIQUE:
- EXTRAIRE ABSOLUMENT TOUT: Ne laisser aucun point important, aucune décision, aucun problème sans le documenter
- SECTIONS DYNAMIQUES: Créer autant de sous-sections que nécessaire selon le contenu réel de la réunion
- DÉTAIL MAXIMUM: Chaque point doit être développé avec son contexte, ses enjeux, ses acteurs
- FIDÉLITÉ TOTALE: Refléter fidèlement l'intensité et la priorité donnée à chaque sujet dans la discussion

TRANSCRIPTION COMPLÈTE À ANALYSER:
`)
	b.WriteString(separator + "\n")
	b.WriteString(transcript + "\n")
	b.WriteString(separator + "\n\n")

	b.WriteString("STRUCTURE JSON ATTENDUE - SECTIONS ADAPTATIVES ET EXHAUSTIVES:\n")
	fmt.Fprintf(&b, `{
  "meta": {
    "projectName": %q,
    "meetingTitle": %q,
    "meetingType": %q,
    "meetingDate": %q,
    "duration": %d,
    "participantsExpected": %d,
    "participantsDetected": [%s],
    "userInstructions": %q,
    "attendanceAnalysis": %q
  },
  "sectionsDynamiques": {
    "etatLieux": ["points d'état des lieux avec détails et mesures concrètes"],
    "avancementTravaux": ["avancements par lot: détails, pourcentages, planning"],
    "problemesIdentifies": ["TOUS les problèmes, même mineurs: cause, impact, solutions"],
    "decisionsStrategiques": ["décisions importantes avec contexte et responsables"],
    "actionsUrgentes": [{"action": "...", "responsable": "...", "echeance": "...", "contexte": "...", "moyens": "..."}],
    "actionsReguliers": [{"action": "...", "responsable": "...", "echeance": "...", "contexte": "...", "dependances": "..."}],
    "aspectsTechniques": ["points techniques: normes, contraintes, mise en œuvre"],
    "planningEtDelais": ["jalons, réajustements, chemin critique"],
    "aspectsFinanciers": ["budget, avenants, optimisations"],
    "relationsFournisseurs": ["négociations, problèmes fournisseurs, sous-traitants"],
    "aspectsReglementaires": ["normes, autorisations, conformité, contrôle qualité"],
    "communicationClient": ["demandes client, présentations, feedback"],
    "risquesEtMitigations": [{"risque": "...", "categorie": "Technique/Planning/Budget/Externe/Humain", "probabilite": "...", "impact": "...", "mitigations": "...", "responsableRisque": "...", "echeanceAction": "..."}],
    "pointsDivers": ["tout autre point important"],
    "syntheseDesAccords": ["consensus et validations"],
    "pointsEnSuspens": ["ce qui reste à clarifier ou décider"]
  },
  "vueChronologique": ["[00:00-05:00] séquence des discussions dans l'ordre"],
  "analysisMetrics": {
    "totalSegments": 0,
    "segmentsAnalyses": 0,
    "niveauDetaille": "Très élevé/Élevé/Moyen/Basique",
    "couvertureSujets": "Exhaustive/Large/Partielle/Limitée",
    "qualiteExtraction": "Excellent/Bon/Moyen/Insuffisant"
  }
}
`, orDefault(meta.ProjectName, "Non spécifié"),
		orDefault(meta.Title, "Non spécifié"),
		meetingType,
		orDefault(meta.Date, "Non spécifié"),
		meta.DurationMinutes,
		meta.ExpectedSpeakers,
		quoteList(meta.Participants),
		meta.AIInstructions,
		attendance)

	b.WriteString(`
RÈGLES ABSOLUES:
1. N'OMETTRE AUCUN POINT mentionné dans la transcription, même brièvement
2. CRÉER LES SECTIONS qui correspondent au contenu réel (supprimer celles vides, ajouter celles nécessaires)
3. DÉTAILLER chaque point avec son contexte, ses acteurs, ses enjeux
4. DISTINGUER l'urgent de l'important, le décidé du proposé, le factuel de l'opinion
`)
	if instructions := strings.TrimSpace(meta.AIInstructions); instructions != "" {
		fmt.Fprintf(&b, "5. RESPECTER PRIORITAIREMENT les instructions utilisateur: %s\n", instructions)
	}
	b.WriteString("\nGénère maintenant le JSON le plus exhaustif possible:")

	return b.String()
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func quoteList(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, item := range items {
		quoted = append(quoted, fmt.Sprintf("%q", item))
	}
	return strings.Join(quoted, ", ")
}
