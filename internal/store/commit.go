package store

import (
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/jward/surface/internal/describe"
)

// WriteDescription replaces the stored description with d and diags within
// a single transaction.
//
// Insert order respects FK dependencies:
//  1. Roots and units (independent)
//  2. Items, then their members
//  3. Implementations
//  4. Diagnostics
func (s *Store) WriteDescription(d *describe.APIDescription, diags []describe.Diagnostic) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("write description: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"members", "items", "implementations", "diagnostics", "units", "roots"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("write description: clear %s: %w", table, err)
		}
	}

	// 1. Roots and units
	for _, r := range d.Roots {
		if _, err := tx.Exec(`INSERT INTO roots (path) VALUES (?)`, r); err != nil {
			return fmt.Errorf("write description: root %q: %w", r, err)
		}
	}
	for _, u := range d.Units {
		_, err := tx.Exec(
			`INSERT INTO units (name, version, fingerprint, state, features, failure)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			u.Name, u.Version, u.Fingerprint, u.State, marshalStrings(u.Features), nullable(u.Failure),
		)
		if err != nil {
			return fmt.Errorf("write description: unit %s: %w", u.Name, err)
		}
	}

	// 2. Items and members
	for _, it := range d.Items {
		id, err := insertItemTx(tx, it)
		if err != nil {
			return fmt.Errorf("write description: item %s: %w", it.Path, err)
		}
		for _, m := range members(id, it) {
			if err := insertMemberTx(tx, &m); err != nil {
				return fmt.Errorf("write description: member %s.%s: %w", it.Path, m.Name, err)
			}
		}
	}

	// 3. Implementations
	for _, im := range d.Implementations {
		if err := insertImplementationTx(tx, im); err != nil {
			return fmt.Errorf("write description: impl %s: %w", im.Impl, err)
		}
	}

	// 4. Diagnostics
	for _, dg := range diags {
		_, err := tx.Exec(
			`INSERT INTO diagnostics (path, kind, reason, cause) VALUES (?, ?, ?, ?)`,
			dg.Path, dg.Kind, dg.Reason, nullable(dg.Cause),
		)
		if err != nil {
			return fmt.Errorf("write description: diagnostic %s: %w", dg.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write description: commit: %w", err)
	}
	return nil
}

func insertItemTx(tx *sql.Tx, it *describe.Item) (int64, error) {
	body, err := json.Marshal(it)
	if err != nil {
		return 0, err
	}
	var ex, sh any
	if it.Safety != nil {
		ex, sh = it.Safety.Exclusive, it.Safety.Shared
	}
	res, err := tx.Exec(
		`INSERT INTO items (path, kind, visibility, exclusive_safe, shared_safe, file, line, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.Path, it.Kind, it.Visibility, ex, sh, nullable(it.File), it.Line, string(body),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func insertMemberTx(tx *sql.Tx, m *Member) error {
	res, err := tx.Exec(
		`INSERT INTO members (item_id, kind, name, ordinal, type_text, type_path, resolved)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ItemID, m.Kind, m.Name, m.Ordinal, m.TypeText, nullable(m.TypePath), m.Resolved,
	)
	if err != nil {
		return err
	}
	m.ID, err = res.LastInsertId()
	return err
}

func insertImplementationTx(tx *sql.Tx, im *describe.Implementation) error {
	body, err := json.Marshal(im)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO implementations (impl_path, interface_path, type_path, unit,
		   interface_local, type_local, negative, unsafe, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		im.Impl, nullable(im.Interface), nullable(im.Type), im.Unit,
		im.InterfaceLocal, im.TypeLocal, im.Negative, im.Unsafe, string(body),
	)
	return err
}

// members flattens the typed slots of it. Named types are the ones worth
// querying by path; the others are kept with their text only.
func members(itemID int64, it *describe.Item) []Member {
	var out []Member
	add := func(kind, name string, t describe.Type) {
		out = append(out, Member{
			ItemID:   itemID,
			Kind:     kind,
			Name:     name,
			Ordinal:  len(out),
			TypeText: t.Text,
			TypePath: t.Path,
			Resolved: t.Resolved,
		})
	}
	for _, f := range it.Fields {
		add(MemberField, f.Name, f.Type)
	}
	for _, v := range it.Variants {
		for _, f := range v.Fields {
			add(MemberVariant, v.Name+"."+f.Name, f.Type)
		}
	}
	for _, t := range it.Supertraits {
		add(MemberSupertrait, "", t)
	}
	signature := func(prefix string, sig describe.Signature) {
		for _, p := range sig.Params {
			add(MemberParam, prefix+p.Name, p.Type)
		}
		if sig.Result != nil {
			add(MemberResult, prefix+"return", *sig.Result)
		}
	}
	if it.Signature != nil {
		signature("", *it.Signature)
	}
	for _, m := range it.Methods {
		signature(m.Name+".", m.Signature)
	}
	return out
}
