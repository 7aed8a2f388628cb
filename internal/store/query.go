package store

import (
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/jward/surface/internal/describe"
)

// --- Item operations ---

func (s *Store) queryItems(query string, args ...any) ([]*ItemSummary, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ItemSummary
	for rows.Next() {
		it := &ItemSummary{}
		var ex, sh, file sql.NullString
		var line sql.NullInt64
		if err := rows.Scan(&it.ID, &it.Path, &it.Kind, &it.Visibility, &ex, &sh, &file, &line); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.ExclusiveSafe, it.SharedSafe, it.File, it.Line = ex.String, sh.String, file.String, int(line.Int64)
		items = append(items, it)
	}
	return items, rows.Err()
}

const itemCols = `id, path, kind, visibility, exclusive_safe, shared_safe, file, line`

// Items lists stored items ordered by path. An empty kind lists all kinds.
func (s *Store) Items(kind string) ([]*ItemSummary, error) {
	if kind == "" {
		return s.queryItems("SELECT " + itemCols + " FROM items ORDER BY path")
	}
	return s.queryItems("SELECT "+itemCols+" FROM items WHERE kind = ? ORDER BY path", kind)
}

// Item returns the full stored item at path, or nil when absent.
func (s *Store) Item(path string) (*describe.Item, error) {
	var body string
	err := s.db.QueryRow("SELECT body FROM items WHERE path = ?", path).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", path, err)
	}
	var it describe.Item
	if err := json.Unmarshal([]byte(body), &it); err != nil {
		return nil, fmt.Errorf("item %s: decode: %w", path, err)
	}
	return &it, nil
}

// --- Member operations ---

func (s *Store) queryMembers(query string, args ...any) ([]*Member, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Member
	for rows.Next() {
		m := &Member{}
		var name, text, path sql.NullString
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Kind, &name, &m.Ordinal, &text, &path, &m.Resolved); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Name, m.TypeText, m.TypePath = name.String, text.String, path.String
		out = append(out, m)
	}
	return out, rows.Err()
}

const memberCols = `id, item_id, kind, name, ordinal, type_text, type_path, resolved`

// MembersOf returns the members of the item at path in declaration order.
func (s *Store) MembersOf(path string) ([]*Member, error) {
	return s.queryMembers(
		"SELECT "+memberCols+" FROM members WHERE item_id = (SELECT id FROM items WHERE path = ?) ORDER BY ordinal",
		path,
	)
}

// Users returns the items with a member whose type is path.
func (s *Store) Users(path string) ([]*ItemSummary, error) {
	return s.queryItems(
		`SELECT `+itemCols+` FROM items WHERE id IN (SELECT item_id FROM members WHERE type_path = ?) ORDER BY path`,
		path,
	)
}

// --- Implementation operations ---

func (s *Store) queryImplementations(query string, args ...any) ([]*describe.Implementation, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*describe.Implementation
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan implementation: %w", err)
		}
		im := &describe.Implementation{}
		if err := json.Unmarshal([]byte(body), im); err != nil {
			return nil, fmt.Errorf("decode implementation: %w", err)
		}
		out = append(out, im)
	}
	return out, rows.Err()
}

// Implementations lists stored impls ordered by impl path.
func (s *Store) Implementations() ([]*describe.Implementation, error) {
	return s.queryImplementations("SELECT body FROM implementations ORDER BY impl_path")
}

// ImplementationsOf returns the impls whose interface or type is path.
func (s *Store) ImplementationsOf(path string) ([]*describe.Implementation, error) {
	return s.queryImplementations(
		"SELECT body FROM implementations WHERE interface_path = ? OR type_path = ? ORDER BY impl_path",
		path, path,
	)
}

// --- Diagnostic operations ---

// Diagnostics lists stored diagnostics ordered by path. An empty kind lists
// all kinds.
func (s *Store) Diagnostics(kind string) ([]describe.Diagnostic, error) {
	query := "SELECT path, kind, reason, cause FROM diagnostics"
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	rows, err := s.db.Query(query+" ORDER BY path, id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []describe.Diagnostic
	for rows.Next() {
		var d describe.Diagnostic
		var cause sql.NullString
		if err := rows.Scan(&d.Path, &d.Kind, &d.Reason, &cause); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		d.Cause = cause.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Whole-description operations ---

// Units lists stored units ordered by name and version.
func (s *Store) Units() ([]describe.Unit, error) {
	rows, err := s.db.Query(
		"SELECT name, version, fingerprint, state, features, failure FROM units ORDER BY name, version, fingerprint",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []describe.Unit
	for rows.Next() {
		var u describe.Unit
		var features, failure sql.NullString
		if err := rows.Scan(&u.Name, &u.Version, &u.Fingerprint, &u.State, &features, &failure); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		u.Features, u.Failure = unmarshalStrings(features.String), failure.String
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) roots() ([]string, error) {
	rows, err := s.db.Query("SELECT path FROM roots ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan root: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReadDescription reconstructs the stored description and diagnostics.
func (s *Store) ReadDescription() (*describe.APIDescription, []describe.Diagnostic, error) {
	d := &describe.APIDescription{}
	var err error
	if d.Roots, err = s.roots(); err != nil {
		return nil, nil, fmt.Errorf("read description: roots: %w", err)
	}
	if d.Units, err = s.Units(); err != nil {
		return nil, nil, fmt.Errorf("read description: units: %w", err)
	}

	rows, err := s.db.Query("SELECT body FROM items ORDER BY path")
	if err != nil {
		return nil, nil, fmt.Errorf("read description: items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, nil, fmt.Errorf("read description: scan item: %w", err)
		}
		it := &describe.Item{}
		if err := json.Unmarshal([]byte(body), it); err != nil {
			return nil, nil, fmt.Errorf("read description: decode item: %w", err)
		}
		d.Items = append(d.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read description: items: %w", err)
	}

	if d.Implementations, err = s.Implementations(); err != nil {
		return nil, nil, fmt.Errorf("read description: implementations: %w", err)
	}
	diags, err := s.Diagnostics("")
	if err != nil {
		return nil, nil, fmt.Errorf("read description: diagnostics: %w", err)
	}
	return d, diags, nil
}

// Summarize counts the stored rows.
func (s *Store) Summarize() (*Summary, error) {
	sum := &Summary{ByKind: make(map[string]int)}
	var err error
	if sum.Roots, err = s.roots(); err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	for table, dst := range map[string]*int{
		"units":           &sum.Units,
		"items":           &sum.Items,
		"implementations": &sum.Implementations,
		"diagnostics":     &sum.Diagnostics,
	} {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(dst); err != nil {
			return nil, fmt.Errorf("summarize: count %s: %w", table, err)
		}
	}

	rows, err := s.db.Query("SELECT kind, COUNT(*) FROM items GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("summarize: kinds: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("summarize: scan kind: %w", err)
		}
		sum.ByKind[kind] = n
	}
	return sum, rows.Err()
}
