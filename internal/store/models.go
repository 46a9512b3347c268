package store

import "time"

// Code types accepted by the vault.
const (
	CodeTypeProcedural = "procedural"
	CodeTypeSQLSelect  = "sql-select"
	CodeTypeDashboard  = "dashboard"
)

// Execution statuses recorded in the audit log.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// VaultEntry is a content-addressed code blob. Hash is the SHA-256 hex of
// CodeBlob and must verify on every read.
type VaultEntry struct {
	Hash     string
	CodeBlob string
	CodeType string
}

// Tool is a registry row binding a (name, persona) pair to a vault entry.
type Tool struct {
	ToolName      string
	TargetPersona string
	Description   string
	InputSchema   map[string]interface{}
	ActiveHashRef string
	IsAutoCreated bool
	Group         string
	IconName      string
	// ExtendedMetadata carries the operator manual: usage_guide, examples,
	// pitfalls, error_codes.
	ExtendedMetadata map[string]interface{}
}

// Resource is either static (content inline) or dynamic (code in the vault).
type Resource struct {
	URISchema     string
	Name          string
	Description   string
	MimeType      string
	IsDynamic     bool
	StaticContent string
	ActiveHashRef string
	TargetPersona string
	Group         string
}

// Prompt is a parameterized message template.
type Prompt struct {
	Name            string
	Description     string
	Template        string
	ArgumentsSchema map[string]interface{}
	TargetPersona   string
	Group           string
}

// Macro is a reusable template block shared by SQL tools.
type Macro struct {
	Name        string
	Description string
	Template    string
	IsActive    bool
}

// Policy is a dynamic security rule. Deny always beats allow.
type Policy struct {
	ID          int64
	RuleType    string // allow or deny
	Category    string // module, function, attribute
	Pattern     string
	Description string
	IsActive    bool
}

// Icon is a named image for UI surfaces.
type Icon struct {
	IconName string
	MimeType string
	Content  string
}

// ExecutionRecord is one audit-log row.
type ExecutionRecord struct {
	ID             int64
	Timestamp      time.Time
	ToolName       string
	Persona        string
	Arguments      map[string]interface{}
	Status         string
	ResultSummary  string
	ErrorTraceback string
}

// NotebookEntry is a long-lived memory keyed by (domain, key).
type NotebookEntry struct {
	Domain    string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
	UpdatedBy string
	IsActive  bool
}

// NotebookChange is one history row for a notebook write or delete.
type NotebookChange struct {
	ID        int64
	Domain    string
	Key       string
	OldValue  string
	NewValue  string
	ChangedAt time.Time
	ChangedBy string
}

// NotebookAccess is one access-trail row, written only when auditing is on.
type NotebookAccess struct {
	ID         int64
	Domain     string
	Key        string
	AccessType string // read, write, delete
	AccessedAt time.Time
	AccessedBy string
	Context    map[string]interface{}
}

// SalesRow is sample data living in the Data Store.
type SalesRow struct {
	ID           int64
	BusinessDate string
	StoreName    string
	Department   string
	SalesAmount  float64
}
