package model

// HandoffConfig is the declared, explicit replacement for the arbitrary
// pickled object graphs (`pickled_scm_service`, `pickled_cxone_service`)
// the original implementation shipped across process boundaries to
// resolver agents (spec §9 design note: "Forbid transporting opaque object
// graphs across process boundaries"). It carries only the fields an agent
// actually needs to rehydrate typed SCM and scanner clients.
type HandoffConfig struct {
	Version int `json:"version"`

	SCMKind      ConfigKey `json:"scm_kind"`
	SCMEndpoint  string    `json:"scm_endpoint"`
	SCMCredRef   string    `json:"scm_cred_ref"` // e.g. "secrets:ssm:/path" or "secrets:file:/path"
	SCMAuthStyle string    `json:"scm_auth_style"`

	ScannerEndpoint string `json:"scanner_endpoint"`
	ScannerCredRef  string `json:"scanner_cred_ref"`
	ScannerTenant   string `json:"scanner_tenant"`

	Moniker string `json:"moniker"`
}
