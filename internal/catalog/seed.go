package catalog

import "github.com/google/uuid"

// Seed returns a small default catalog shaped like the production one, used
// when no database is configured. Rule shapes cover every requirement
// category the derivation engine distinguishes.
func Seed() []Domain {
	return []Domain{
		{
			ID:          uuid.New(),
			Name:        "Gobernanza",
			Description: "Roles, responsabilidades y contactos de cumplimiento.",
			Rules: []Rule{
				{
					ID:              uuid.New(),
					Reference:       "Art. 8a",
					Text:            "La organización designa un responsable de cumplimiento con contacto verificable.",
					SuggestedAction: "Designe un responsable e indique un correo corporativo verificable.",
					RequiresName:    true,
					RequiresEmail:   true,
				},
				{
					ID:              uuid.New(),
					Reference:       "Art. 8b",
					Text:            "Existe un teléfono de contacto directo para incidentes regulatorios.",
					SuggestedAction: "Registre un número de contacto de nueve dígitos.",
					RequiresPhone:   true,
				},
			},
		},
		{
			ID:          uuid.New(),
			Name:        "Gestión de Riesgos",
			Description: "Registros operativos que deben mantenerse al día.",
			Rules: []Rule{
				{
					ID:              uuid.New(),
					Reference:       "Art. 12c",
					Text:            "El registro de incidentes se mantiene con antigüedad máxima de seis meses.",
					SuggestedAction: "Cargue un registro de incidentes con entradas de los últimos seis meses.",
					RequiredFiles: []FileRequirement{
						{FileType: "registro_incidentes", RecencyMonths: 6},
					},
				},
			},
		},
		{
			ID:          uuid.New(),
			Name:        "Protección",
			Description: "Políticas y procedimientos documentados.",
			Rules: []Rule{
				{
					ID:              uuid.New(),
					Reference:       "Art. 15a",
					Text:            "Existen política de seguridad y plan de continuidad aprobados.",
					SuggestedAction: "Adjunte ambos documentos aprobados por la dirección.",
					RequiredFiles: []FileRequirement{
						{FileType: "politica_seguridad"},
						{FileType: "plan_continuidad"},
					},
				},
				{
					ID:              uuid.New(),
					Reference:       "Art. 15b",
					Text:            "La organización evalúa periódicamente la efectividad de sus controles.",
					SuggestedAction: "Documente la última evaluación interna.",
				},
			},
		},
	}
}
