package trigger

// The trigger catalog is fixed by the host. Extensions subscribe to names
// from this list; unknown names in a manifest are registered but inert, so
// installing an extension built for a newer host never fails outright.

// Package management triggers.
const (
	PreInstall    = "pre_install"
	PostInstall   = "post_install"
	PreUpdate     = "pre_update"
	PostUpdate    = "post_update"
	PreUninstall  = "pre_uninstall"
	PostUninstall = "post_uninstall"
)

// Dependency management triggers.
const (
	PreDependencyCheck  = "pre_dependency_check"
	PostDependencyCheck = "post_dependency_check"
)

// File operation triggers.
const (
	PreFileDownload  = "pre_file_download"
	PostFileDownload = "post_file_download"
	ChecksumFailed   = "checksum_failed"
)

// Search and info triggers.
const (
	PreSearch  = "pre_search"
	PostSearch = "post_search"
	PreInfo    = "pre_info"
	PostInfo   = "post_info"
)

// Repository and system triggers.
const (
	PreRepoInfo   = "pre_repo_info"
	PostRepoInfo  = "post_repo_info"
	PreUpdateAll  = "pre_update_all"
	PostUpdateAll = "post_update_all"
)

// Listing triggers.
const (
	ListAllStart = "listall.start"
	ListAllEnd   = "listall.end"
)

// Protocol and URL handling triggers.
const (
	PreURLHandle         = "pre_url_handle"
	PostURLHandle        = "post_url_handle"
	PreProtocolRegister  = "pre_protocol_register"
	PostProtocolRegister = "post_protocol_register"
	PreProtocolCheck     = "pre_protocol_check"
	PostProtocolCheck    = "post_protocol_check"
)

// Application lifecycle triggers.
const (
	AppStart     = "app_start"
	AppExit      = "app_exit"
	AppCancelled = "app_cancelled"
)

// catalog maps each documented trigger to the context fields it carries.
// The dispatcher treats payloads as opaque; the field lists document the
// contract for extension authors and feed `paxd fire` help output.
var catalog = map[string][]string{
	PreInstall:    {"package", "user_requested"},
	PostInstall:   {"package", "user_requested", "version"},
	PreUpdate:     {"package"},
	PostUpdate:    {"package", "version", "files"},
	PreUninstall:  {"package"},
	PostUninstall: {"package"},

	PreDependencyCheck:  {"package", "dependencies"},
	PostDependencyCheck: {"package", "missing"},

	PreFileDownload:  {"package", "url"},
	PostFileDownload: {"package", "url", "path"},
	ChecksumFailed:   {"package", "url", "expected", "actual"},

	PreSearch:  {"term"},
	PostSearch: {"term", "results"},
	PreInfo:    {"package"},
	PostInfo:   {"package", "found"},

	PreRepoInfo:   {"repository"},
	PostRepoInfo:  {"repository", "packages"},
	PreUpdateAll:  {"packages"},
	PostUpdateAll: {"updated", "failed"},

	ListAllStart: {},
	ListAllEnd:   {"packages"},

	PreURLHandle:         {"url"},
	PostURLHandle:        {"url", "handled"},
	PreProtocolRegister:  {"protocol"},
	PostProtocolRegister: {"protocol", "success"},
	PreProtocolCheck:     {"protocol"},
	PostProtocolCheck:    {"protocol", "registered"},

	AppStart:     {"version"},
	AppExit:      {"exit_code"},
	AppCancelled: {"operation"},
}

// Known reports whether name is a documented host trigger.
func Known(name string) bool {
	_, ok := catalog[name]
	return ok
}

// ContextFields returns the documented context field names for a trigger,
// and whether the trigger exists in the catalog.
func ContextFields(name string) ([]string, bool) {
	fields, ok := catalog[name]
	if !ok {
		return nil, false
	}
	out := make([]string, len(fields))
	copy(out, fields)
	return out, true
}

// CatalogNames returns all documented trigger names. Order is unspecified.
func CatalogNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	return names
}
