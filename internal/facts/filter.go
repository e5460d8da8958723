package facts

// FilterTablesByFiles returns a new Tables object containing only rows whose file
// or path is present in the provided file set.
func FilterTablesByFiles(tables Tables, files map[string]bool) Tables {
	out := emptyTables()
	if len(files) == 0 {
		return out
	}

	for _, row := range tables.Files {
		if files[row.Path] {
			out.Files = append(out.Files, row)
		}
	}
	out.Modules = keep(tables.Modules, files, func(r ModuleRow) string { return r.File })
	out.Nodes = keep(tables.Nodes, files, func(r NodeRow) string { return r.File })
	out.Branches = keep(tables.Branches, files, func(r BranchRow) string { return r.File })
	out.Probes = keep(tables.Probes, files, func(r ProbeRow) string { return r.File })
	out.Deps = keep(tables.Deps, files, func(r DepRow) string { return r.File })
	out.Statements = keep(tables.Statements, files, func(r StatementRow) string { return r.File })
	out.Params = keep(tables.Params, files, func(r ParamRow) string { return r.File })
	out.Functions = keep(tables.Functions, files, func(r FunctionRow) string { return r.File })
	out.Filters = keep(tables.Filters, files, func(r FilterRow) string { return r.File })
	out.Diagnostics = keep(tables.Diagnostics, files, func(r DiagnosticRow) string { return r.File })

	return out
}

func keep[T any](rows []T, files map[string]bool, file func(T) string) []T {
	out := []T{}
	for _, r := range rows {
		if files[file(r)] {
			out = append(out, r)
		}
	}
	return out
}

// FilterDeltaByFiles returns a new Delta containing only rows for the specified files.
func FilterDeltaByFiles(delta Delta, files map[string]bool) Delta {
	return Delta{
		Added:   FilterTablesByFiles(delta.Added, files),
		Removed: FilterTablesByFiles(delta.Removed, files),
	}
}
