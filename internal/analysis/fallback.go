package analysis

import (
	"fmt"

	"github.com/cybeform/cybemeeting/internal/transcription"
)

// Fallback builds a minimal analysis when the language model is
// unreachable or over quota, so the report can still be generated.
func Fallback(segments []transcription.AlignedSegment, meta Metadata, reason string) map[string]any {
	speakers := map[string]struct{}{}
	for _, seg := range segments {
		speakers[seg.Speaker] = struct{}{}
	}

	points := []any{
		fmt.Sprintf("Réunion de %d minutes avec %d intervenant(s)", meta.DurationMinutes, len(speakers)),
		fmt.Sprintf("%d segments de transcription disponibles", len(segments)),
		"[Analyse IA non disponible - Quota dépassé]",
	}
	if reason != "" {
		points = append(points, fmt.Sprintf("Détail technique: %s", reason))
	}

	return map[string]any{
		"meta": defaultMeta(meta),
		"sectionsDynamiques": map[string]any{
			"pointsDivers": points,
			"pointsEnSuspens": []any{
				"L'analyse automatique n'a pas pu être réalisée, consulter la transcription complète",
			},
		},
		"vueChronologique": []any{},
		"analysisMetrics": map[string]any{
			"totalSegments":     len(segments),
			"segmentsAnalyses":  0,
			"niveauDetaille":    "Basique",
			"couvertureSujets":  "Limitée",
			"qualiteExtraction": "Insuffisant",
		},
	}
}
