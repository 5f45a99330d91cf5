package output

// TSVHeader is the canonical header row for text/TSV comparison outputs.
// Keep this as the single source of truth; all writers should use it.
const TSVHeader = "sample\ttool_a\ttool_b\tclones_a\tclones_b\tshared\tonly_a\tonly_b\tconcordance\tentropy_a\tentropy_b\tcomplete"
