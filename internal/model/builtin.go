package model

// Primitives live at the builtin unit root.
var Primitives = []string{
	"bool", "char", "str",
	"i8", "i16", "i32", "i64", "i128", "isize",
	"u8", "u16", "u32", "u64", "u128", "usize",
	"f32", "f64",
}

// BuiltinDecl is one builtin type or interface.
type BuiltinDecl struct {
	Module   string
	Name     string
	Kind     Kind
	Variants []string
}

// BuiltinDecls is the standard library surface the resolver knows about
// without loading anything.
var BuiltinDecls = []BuiltinDecl{
	{Module: "string", Name: "String", Kind: KindStruct},
	{Module: "vec", Name: "Vec", Kind: KindStruct},
	{Module: "boxed", Name: "Box", Kind: KindStruct},
	{Module: "option", Name: "Option", Kind: KindEnum, Variants: []string{"Some", "None"}},
	{Module: "result", Name: "Result", Kind: KindEnum, Variants: []string{"Ok", "Err"}},
	{Module: "sync", Name: "Arc", Kind: KindStruct},
	{Module: "sync", Name: "Mutex", Kind: KindStruct},
	{Module: "sync", Name: "RwLock", Kind: KindStruct},
	{Module: "rc", Name: "Rc", Kind: KindStruct},
	{Module: "cell", Name: "Cell", Kind: KindStruct},
	{Module: "cell", Name: "RefCell", Kind: KindStruct},
	{Module: "collections", Name: "HashMap", Kind: KindStruct},
	{Module: "collections", Name: "HashSet", Kind: KindStruct},
	{Module: "collections", Name: "BTreeMap", Kind: KindStruct},
	{Module: "collections", Name: "BTreeSet", Kind: KindStruct},
	{Module: "collections", Name: "VecDeque", Kind: KindStruct},
	{Module: "marker", Name: "PhantomData", Kind: KindStruct},
	{Module: "marker", Name: "Send", Kind: KindInterface},
	{Module: "marker", Name: "Sync", Kind: KindInterface},
	{Module: "marker", Name: "Copy", Kind: KindInterface},
	{Module: "marker", Name: "Sized", Kind: KindInterface},
	{Module: "marker", Name: "Unpin", Kind: KindInterface},
	{Module: "clone", Name: "Clone", Kind: KindInterface},
	{Module: "default", Name: "Default", Kind: KindInterface},
	{Module: "fmt", Name: "Debug", Kind: KindInterface},
	{Module: "fmt", Name: "Display", Kind: KindInterface},
	{Module: "cmp", Name: "PartialEq", Kind: KindInterface},
	{Module: "cmp", Name: "Eq", Kind: KindInterface},
	{Module: "cmp", Name: "PartialOrd", Kind: KindInterface},
	{Module: "cmp", Name: "Ord", Kind: KindInterface},
	{Module: "hash", Name: "Hash", Kind: KindInterface},
}

// preludeNames maps prelude identifiers to their builtin path names.
var preludeNames = map[string]string{
	"String":     "string::String",
	"Vec":        "vec::Vec",
	"Box":        "boxed::Box",
	"Option":     "option::Option",
	"Some":       "option::Option::Some",
	"None":       "option::Option::None",
	"Result":     "result::Result",
	"Ok":         "result::Result::Ok",
	"Err":        "result::Result::Err",
	"Send":       "marker::Send",
	"Sync":       "marker::Sync",
	"Copy":       "marker::Copy",
	"Sized":      "marker::Sized",
	"Unpin":      "marker::Unpin",
	"Clone":      "clone::Clone",
	"Default":    "default::Default",
	"Debug":      "fmt::Debug",
	"PartialEq":  "cmp::PartialEq",
	"Eq":         "cmp::Eq",
	"PartialOrd": "cmp::PartialOrd",
	"Ord":        "cmp::Ord",
	"Hash":       "hash::Hash",
}

// StdAliases name the extern crates that map onto the builtin unit.
var StdAliases = map[string]bool{"std": true, "core": true, "alloc": true}

var (
	SendPath = NewPath(BuiltinUnit, "marker", "Send")
	SyncPath = NewPath(BuiltinUnit, "marker", "Sync")
)

// Prelude resolves an identifier injected into every scope.
func Prelude(name string) (Path, bool) {
	if n, ok := preludeNames[name]; ok {
		return NewPath(BuiltinUnit, SplitSegments(n)...), true
	}
	for _, p := range Primitives {
		if p == name {
			return NewPath(BuiltinUnit, name), true
		}
	}
	return Path{}, false
}
