package analysis

import (
	"encoding/json"
	"strings"

	"github.com/antonholmquist/jason"

	"github.com/cybeform/cybemeeting/internal/errors"
)

// ValidateAndClean parses the model output leniently, strips the comment
// entries the model sometimes emits, converts the legacy flat layout to
// sectionsDynamiques and fills in the mandatory sections.
func ValidateAndClean(raw []byte, meta Metadata, totalSegments int) (map[string]any, error) {
	root, err := jason.NewObjectFromBytes(raw)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryAnalysis).
			Context("operation", "parse_llm_response").
			Build()
	}

	result := make(map[string]any)

	if metaObj, err := root.GetObject("meta"); err == nil {
		result["meta"] = toAny(metaObj.Map())
	} else {
		result["meta"] = defaultMeta(meta)
	}

	if sections, err := root.GetObject("sectionsDynamiques"); err == nil {
		result["sectionsDynamiques"] = cleanSections(sections.Map())
	} else {
		result["sectionsDynamiques"] = convertLegacySections(root)
	}

	if chrono, err := root.GetValueArray("vueChronologique"); err == nil {
		result["vueChronologique"] = cleanList(chrono)
	} else {
		result["vueChronologique"] = []any{}
	}

	if metrics, err := root.GetObject("analysisMetrics"); err == nil {
		result["analysisMetrics"] = toAny(metrics.Map())
	} else {
		result["analysisMetrics"] = map[string]any{
			"totalSegments":     totalSegments,
			"segmentsAnalyses":  totalSegments,
			"niveauDetaille":    "Moyen",
			"couvertureSujets":  "Partielle",
			"qualiteExtraction": "Bon",
		}
	}

	return result, nil
}

func defaultMeta(meta Metadata) map[string]any {
	return map[string]any{
		"projectName":          orDefault(meta.ProjectName, "Non spécifié"),
		"meetingTitle":         orDefault(meta.Title, "Non spécifié"),
		"meetingType":          InferMeetingType(meta.AIInstructions),
		"meetingDate":          orDefault(meta.Date, "Non spécifié"),
		"duration":             meta.DurationMinutes,
		"participantsExpected": meta.ExpectedSpeakers,
		"participantsDetected": meta.Participants,
		"userInstructions":     meta.AIInstructions,
	}
}

// cleanSections removes comment keys, comment items inside the lists and
// sections left empty after cleaning.
func cleanSections(sections map[string]*jason.Value) map[string]any {
	cleaned := make(map[string]any)
	for key, value := range sections {
		if isComment(key) {
			continue
		}
		if items, err := value.Array(); err == nil {
			list := cleanList(items)
			if len(list) > 0 {
				cleaned[key] = list
			}
			continue
		}
		if v := decode(value); v != nil {
			cleaned[key] = v
		}
	}
	return cleaned
}

func cleanList(items []*jason.Value) []any {
	cleaned := make([]any, 0, len(items))
	for _, item := range items {
		if s, err := item.String(); err == nil {
			if isComment(s) || strings.TrimSpace(s) == "" {
				continue
			}
			cleaned = append(cleaned, s)
			continue
		}
		if v := decode(item); v != nil {
			cleaned = append(cleaned, v)
		}
	}
	return cleaned
}

func isComment(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "/*")
}

func toAny(m map[string]*jason.Value) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		if isComment(key) {
			continue
		}
		if v := decode(value); v != nil {
			out[key] = v
		}
	}
	return out
}

// decode round-trips a jason value through encoding/json to get a plain Go
// representation.
func decode(value *jason.Value) any {
	raw, err := value.Marshal()
	if err != nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// convertLegacySections maps the older flat response layout onto the
// current sectionsDynamiques structure.
func convertLegacySections(root *jason.Object) map[string]any {
	sections := make(map[string]any)

	if decisions, err := root.GetValueArray("decisions"); err == nil {
		if list := cleanList(decisions); len(list) > 0 {
			sections["decisionsStrategiques"] = list
		}
	}

	if problems, err := root.GetValueArray("problemes"); err == nil {
		if list := cleanList(problems); len(list) > 0 {
			sections["problemesIdentifies"] = list
		}
	}

	if points, err := root.GetValueArray("pointsCles"); err == nil {
		if list := cleanList(points); len(list) > 0 {
			sections["pointsDivers"] = list
		}
	}

	// Actions are split by declared priority.
	if actions, err := root.GetObjectArray("actions"); err == nil {
		var urgent, regular []any
		for _, action := range actions {
			entry := toAny(action.Map())
			if len(entry) == 0 {
				continue
			}
			priority, _ := action.GetString("priorite")
			if strings.EqualFold(priority, "urgente") || strings.EqualFold(priority, "haute") {
				urgent = append(urgent, entry)
			} else {
				regular = append(regular, entry)
			}
		}
		if len(urgent) > 0 {
			sections["actionsUrgentes"] = urgent
		}
		if len(regular) > 0 {
			sections["actionsReguliers"] = regular
		}
	}

	// Risk entries tolerate both "risque" and "description" keys.
	if risks, err := root.GetObjectArray("risques"); err == nil {
		var converted []any
		for _, risk := range risks {
			label, err := risk.GetString("risque")
			if err != nil {
				label, _ = risk.GetString("description")
			}
			if strings.TrimSpace(label) == "" {
				continue
			}
			entry := toAny(risk.Map())
			entry["risque"] = label
			converted = append(converted, entry)
		}
		if len(converted) > 0 {
			sections["risquesEtMitigations"] = converted
		}
	}

	return sections
}
