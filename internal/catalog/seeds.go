package catalog

import "github.com/jaico1231/paola-sub001/internal/core/usecase"

// SeedOrder is the sequence used when every module is loaded. Later modules
// may reference rows of earlier ones.
var SeedOrder = []string{"geography", "types", "accounts"}

// Seeds returns the canonical data per module.
func Seeds() map[string][]usecase.SeedSet {
	return map[string][]usecase.SeedSet{
		"geography": geographySeeds(),
		"types":     typeSeeds(),
		"accounts":  accountSeeds(),
	}
}

func geographySeeds() []usecase.SeedSet {
	colombia := usecase.Ref{Entity: "base.country", Field: "code", Value: "CO"}
	states := [][2]string{
		{"05", "Antioquia"},
		{"08", "Atlántico"},
		{"11", "Bogotá, D.C."},
		{"13", "Bolívar"},
		{"17", "Caldas"},
		{"25", "Cundinamarca"},
		{"66", "Risaralda"},
		{"68", "Santander"},
		{"76", "Valle del Cauca"},
	}
	cities := [][3]string{
		{"05001", "Medellín", "05"},
		{"05088", "Bello", "05"},
		{"05360", "Itagüí", "05"},
		{"05266", "Envigado", "05"},
		{"08001", "Barranquilla", "08"},
		{"11001", "Bogotá, D.C.", "11"},
		{"13001", "Cartagena de Indias", "13"},
		{"17001", "Manizales", "17"},
		{"25754", "Soacha", "25"},
		{"66001", "Pereira", "66"},
		{"68001", "Bucaramanga", "68"},
		{"76001", "Cali", "76"},
	}

	stateRows := make([]map[string]any, 0, len(states))
	for _, s := range states {
		stateRows = append(stateRows, map[string]any{"code": s[0], "name": s[1], "country_id": colombia})
	}
	cityRows := make([]map[string]any, 0, len(cities))
	for _, c := range cities {
		cityRows = append(cityRows, map[string]any{
			"code":     c[0],
			"name":     c[1],
			"state_id": usecase.Ref{Entity: "base.state", Field: "code", Value: c[2]},
		})
	}
	return []usecase.SeedSet{
		{Entity: "base.country", Rows: []map[string]any{{"code": "CO", "name": "Colombia"}}},
		{Entity: "base.state", Rows: stateRows},
		{Entity: "base.city", Rows: cityRows},
	}
}

func typeSeeds() []usecase.SeedSet {
	docTypes := [][2]string{
		{"CC", "Cédula de ciudadanía"},
		{"NIT", "Número de identificación tributaria"},
		{"CE", "Cédula de extranjería"},
		{"TI", "Tarjeta de identidad"},
		{"PP", "Pasaporte"},
		{"RC", "Registro civil"},
		{"NUIP", "Número único de identificación personal"},
	}
	rows := make([]map[string]any, 0, len(docTypes))
	for _, d := range docTypes {
		rows = append(rows, map[string]any{"code": d[0], "name": d[1]})
	}
	return []usecase.SeedSet{
		{Entity: "base.doc_type", Rows: rows},
		{Entity: "third_party.third_party_type", Rows: []map[string]any{
			{"code": "PN", "name": PersonNatural},
			{"code": "PJ", "name": PersonJuridica},
		}},
	}
}

// accountSeeds loads the classes and groups of the Colombian chart of
// accounts (PUC).
func accountSeeds() []usecase.SeedSet {
	classes := [][3]string{
		{"1", "Activo", "Débito"},
		{"2", "Pasivo", "Crédito"},
		{"3", "Patrimonio", "Crédito"},
		{"4", "Ingresos", "Crédito"},
		{"5", "Gastos", "Débito"},
		{"6", "Costos de ventas", "Débito"},
	}
	groups := [][3]string{
		{"11", "Disponible", "1"},
		{"13", "Deudores", "1"},
		{"15", "Propiedades, planta y equipo", "1"},
		{"22", "Proveedores", "2"},
		{"23", "Cuentas por pagar", "2"},
		{"24", "Impuestos, gravámenes y tasas", "2"},
		{"31", "Capital social", "3"},
		{"41", "Operacionales", "4"},
		{"51", "Operacionales de administración", "5"},
		{"61", "Costo de ventas y de prestación de servicios", "6"},
	}

	nature := map[string]string{}
	classRows := make([]map[string]any, 0, len(classes))
	for _, c := range classes {
		nature[c[0]] = c[2]
		classRows = append(classRows, map[string]any{"code": c[0], "name": c[1], "nature": c[2], "level": "1"})
	}
	groupRows := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		groupRows = append(groupRows, map[string]any{
			"code":      g[0],
			"name":      g[1],
			"nature":    nature[g[2]],
			"level":     "2",
			"parent_id": usecase.Ref{Entity: "accounting.account", Field: "code", Value: g[2]},
		})
	}
	return []usecase.SeedSet{
		{Entity: "accounting.account", Rows: classRows},
		{Entity: "accounting.account", Rows: groupRows},
	}
}
