package store

// ItemSummary is one row of the items table without its body.
type ItemSummary struct {
	ID            int64
	Path          string
	Kind          string
	Visibility    string
	ExclusiveSafe string
	SharedSafe    string
	File          string
	Line          int
}

// Member is a field, variant field, method parameter or supertrait of an
// item, flattened for queries by type.
type Member struct {
	ID       int64
	ItemID   int64
	Kind     string
	Name     string
	Ordinal  int
	TypeText string
	TypePath string
	Resolved bool
}

const (
	MemberField      = "field"
	MemberVariant    = "variant_field"
	MemberParam      = "param"
	MemberResult     = "result"
	MemberSupertrait = "supertrait"
)

// Summary counts the rows of a stored description.
type Summary struct {
	Roots           []string
	Units           int
	Items           int
	Implementations int
	Diagnostics     int
	// ByKind counts items per kind.
	ByKind map[string]int
}
