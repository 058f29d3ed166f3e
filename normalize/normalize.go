package normalize

import (
	"strconv"
	"strings"
)

// Pair is one recovered translation.
type Pair struct {
	ID   string `json:"id" yaml:"id"`
	Text string `json:"translatedText" yaml:"translatedText"`
}

// Strategy names, in the order they are tried.
const (
	StrategyObjectPair = "object-pair"
	StrategyArrayItems = "array-items"
	StrategyIDMap      = "id-map"
	StrategyDescend    = "descend"
)

type strategyFunc func(w *walker, v *Value, fallback string) []Pair

type strategy struct {
	name string
	fn   strategyFunc
}

// Normalizer extracts pairs from Values using a fixed Table. It holds no
// per-call state and is safe for concurrent use.
type Normalizer struct {
	table      Table
	reserved   map[string]struct{}
	strategies []strategy
}

// New builds a Normalizer for table.
func New(table Table) *Normalizer {
	n := &Normalizer{
		table:    table,
		reserved: make(map[string]struct{}, len(table.ReservedKeys)),
	}
	for _, k := range table.ReservedKeys {
		n.reserved[strings.ToLower(k)] = struct{}{}
	}
	n.strategies = []strategy{
		{StrategyObjectPair, (*walker).objectPair},
		{StrategyArrayItems, (*walker).arrayItems},
		{StrategyIDMap, (*walker).idMap},
		{StrategyDescend, (*walker).descend},
	}
	return n
}

var std = New(DefaultTable())

// Default returns the Normalizer built on DefaultTable.
func Default() *Normalizer { return std }

// Normalize runs the default Normalizer over v.
func Normalize(v *Value) []Pair { return std.Normalize(v) }

// NormalizeString runs the default Normalizer over model text.
func NormalizeString(s string) []Pair { return std.NormalizeString(s) }

// NormalizeBytes runs the default Normalizer over a raw response body.
func NormalizeBytes(b []byte) []Pair { return std.NormalizeString(string(b)) }

// Table returns the table n was built with.
func (n *Normalizer) Table() Table { return n.table }

// Strategies returns the strategy names in the order they are tried.
func (n *Normalizer) Strategies() []string {
	names := make([]string, len(n.strategies))
	for i, s := range n.strategies {
		names[i] = s.name
	}
	return names
}

// Normalize returns every pair found in v. A nil or scalar v yields nothing
// unless it is a string holding embedded JSON.
func (n *Normalizer) Normalize(v *Value) []Pair {
	return n.newWalker().walk(v, "")
}

// NormalizeString recovers embedded JSON from s and normalizes it.
func (n *Normalizer) NormalizeString(s string) []Pair {
	return n.newWalker().walk(String(s), "")
}

// Apply runs the single named strategy on v with the given fallback id.
// Unknown names yield nothing. Nested values reached by the strategy are
// still walked through the full strategy list.
func (n *Normalizer) Apply(name string, v *Value, fallback string) []Pair {
	for _, s := range n.strategies {
		if s.name == name {
			w := n.newWalker()
			if v != nil && v.IsContainer() {
				w.visited[v] = struct{}{}
			}
			return s.fn(w, v, fallback)
		}
	}
	return nil
}

// Positional pairs a flat array of scalars with ids by index. It is the last
// resort for models that answer with a bare list of translations in input
// order, and yields nothing unless the lengths match exactly.
func (n *Normalizer) Positional(v *Value, ids []string) []Pair {
	if v != nil && v.Kind == KindString {
		inner, ok := ParseEmbeddedJSON(v.Str)
		if !ok {
			return nil
		}
		v = inner
	}
	if v == nil || v.Kind != KindArray || len(v.Items) != len(ids) || len(ids) == 0 {
		return nil
	}
	w := n.newWalker()
	pairs := make([]Pair, 0, len(ids))
	for i, item := range v.Items {
		if !item.IsScalar() {
			return nil
		}
		pairs = append(pairs, Pair{ID: ids[i], Text: w.coerce(item)})
	}
	return pairs
}

// Positional runs the default Normalizer's positional fallback.
func Positional(v *Value, ids []string) []Pair { return std.Positional(v, ids) }

// ---------------------------------------------------------------------------
// Walker
// ---------------------------------------------------------------------------

// walker carries the state of one top-level call.
type walker struct {
	n *Normalizer
	// visited holds every container the strategies have been run on.
	visited map[*Value]struct{}
	// coercing holds the containers on the current coercion path.
	coercing map[*Value]struct{}
}

func (n *Normalizer) newWalker() *walker {
	return &walker{
		n:        n,
		visited:  make(map[*Value]struct{}),
		coercing: make(map[*Value]struct{}),
	}
}

func (w *walker) walk(v *Value, fallback string) []Pair {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case KindString:
		inner, ok := ParseEmbeddedJSON(v.Str)
		if !ok || !inner.IsContainer() {
			return nil
		}
		return w.walk(inner, fallback)
	case KindArray, KindObject:
	default:
		return nil
	}

	if _, seen := w.visited[v]; seen {
		return nil
	}
	w.visited[v] = struct{}{}

	for _, s := range w.n.strategies {
		if pairs := s.fn(w, v, fallback); len(pairs) > 0 {
			return pairs
		}
	}
	return nil
}

// objectPair treats a single object as one item: an id alias plus a text
// alias, or a scalar text alias plus the fallback id.
func (w *walker) objectPair(v *Value, fallback string) []Pair {
	if v == nil || v.Kind != KindObject {
		return nil
	}
	text, scalar := w.textOf(v)
	if text == "" {
		return nil
	}
	if !scalar && w.holdsItems(v) {
		return nil
	}
	id := w.idOf(v)
	if id == "" {
		if fallback == "" || !scalar {
			return nil
		}
		id = fallback
	}
	return []Pair{{ID: id, Text: text}}
}

// holdsItems reports whether a member of obj is an array carrying item
// objects. Such an object is a wrapper, not an item.
func (w *walker) holdsItems(obj *Value) bool {
	for _, f := range obj.Fields {
		if f.Value == nil || f.Value.Kind != KindArray {
			continue
		}
		for _, el := range f.Value.Items {
			if el == nil || el.Kind != KindObject {
				continue
			}
			if w.idOf(el) == "" {
				continue
			}
			if text, _ := w.textOf(el); text != "" {
				return true
			}
		}
	}
	return false
}

// arrayItems handles arrays of item objects, [id, text] tuples and raw
// scalars. Raw scalars only produce pairs when a fallback id is known.
func (w *walker) arrayItems(v *Value, fallback string) []Pair {
	if v == nil || v.Kind != KindArray {
		return nil
	}
	var pairs []Pair
	for _, el := range v.Items {
		if el == nil {
			continue
		}
		switch el.Kind {
		case KindObject:
			id := w.idOf(el)
			text, _ := w.textOf(el)
			if id != "" && text != "" {
				pairs = append(pairs, Pair{ID: id, Text: text})
			}
		case KindArray:
			if isTuple(el) {
				id := strings.TrimSpace(w.coerce(el.Items[0]))
				text := w.coerce(el.Items[1])
				if id != "" && text != "" {
					pairs = append(pairs, Pair{ID: id, Text: text})
				}
				continue
			}
			if fallback != "" && allScalar(el) {
				if text := w.coerce(el); text != "" {
					pairs = append(pairs, Pair{ID: fallback, Text: text})
				}
			}
		case KindString, KindNumber, KindBool:
			if fallback == "" {
				continue
			}
			if text := w.coerce(el); text != "" {
				pairs = append(pairs, Pair{ID: fallback, Text: text})
			}
		}
	}
	return pairs
}

// idMap reads an object as id → text, skipping reserved keys and non-scalar
// values.
func (w *walker) idMap(v *Value, _ string) []Pair {
	if v == nil || v.Kind != KindObject {
		return nil
	}
	var pairs []Pair
	for _, f := range v.Fields {
		if !f.Value.IsScalar() || w.n.isReserved(f.Key) {
			continue
		}
		if text := w.coerce(f.Value); text != "" {
			pairs = append(pairs, Pair{ID: f.Key, Text: text})
		}
	}
	return pairs
}

// descend walks nested containers and JSON-bearing strings. Object members
// pass their key down as the fallback id unless it is reserved; array
// elements inherit the current one.
func (w *walker) descend(v *Value, fallback string) []Pair {
	if v == nil {
		return nil
	}
	var pairs []Pair
	switch v.Kind {
	case KindArray:
		for _, el := range v.Items {
			if el.IsContainer() || (el != nil && el.Kind == KindString) {
				pairs = append(pairs, w.walk(el, fallback)...)
			}
		}
	case KindObject:
		for _, f := range v.Fields {
			if f.Value.IsContainer() || (f.Value != nil && f.Value.Kind == KindString) {
				key := f.Key
				if w.n.isReserved(key) {
					key = ""
				}
				pairs = append(pairs, w.walk(f.Value, key)...)
			}
		}
	}
	return pairs
}

// ---------------------------------------------------------------------------
// Coercion
// ---------------------------------------------------------------------------

func (w *walker) idOf(obj *Value) string {
	for _, k := range w.n.table.IDKeys {
		val := obj.lookup(k)
		if !val.IsScalar() {
			continue
		}
		if id := strings.TrimSpace(w.coerce(val)); id != "" {
			return id
		}
	}
	return ""
}

// textOf runs the text alias search on obj. The second result reports
// whether the text came straight from a scalar member.
func (w *walker) textOf(obj *Value) (string, bool) {
	for _, k := range w.n.table.TextKeys {
		val := obj.lookup(k)
		if val == nil || val.Kind == KindNull {
			continue
		}
		if s := w.coerce(val); s != "" {
			return s, val.IsScalar()
		}
	}
	for _, k := range w.n.table.StringKeys {
		val := obj.lookup(k)
		if val != nil && val.Kind == KindString && strings.TrimSpace(val.Str) != "" {
			return val.Str, true
		}
	}
	for _, k := range w.n.table.JoinKeys {
		val := obj.lookup(k)
		if val == nil || val.Kind != KindArray {
			continue
		}
		if s := w.join(val); s != "" {
			return s, false
		}
	}
	return "", false
}

// join coerces every element of a join-key array, objects included, and
// joins the results with newlines.
func (w *walker) join(arr *Value) string {
	if _, busy := w.coercing[arr]; busy {
		return ""
	}
	w.coercing[arr] = struct{}{}
	defer delete(w.coercing, arr)

	parts := make([]string, 0, len(arr.Items))
	for _, el := range arr.Items {
		if s := w.coerce(el); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func (w *walker) coerce(v *Value) string {
	if v == nil {
		return ""
	}
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return numberText(v.Str)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindArray, KindObject:
		if _, busy := w.coercing[v]; busy {
			return ""
		}
		w.coercing[v] = struct{}{}
		defer delete(w.coercing, v)

		if v.Kind == KindObject {
			s, _ := w.textOf(v)
			return s
		}
		// Only arrays of scalars and nested arrays are text.
		parts := make([]string, 0, len(v.Items))
		for _, el := range v.Items {
			if el != nil && el.Kind == KindObject {
				return ""
			}
			if s := w.coerce(el); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func (n *Normalizer) isReserved(key string) bool {
	_, ok := n.reserved[strings.ToLower(key)]
	return ok
}

// numberText renders exponent literals in plain decimal form.
func numberText(lit string) string {
	if !strings.ContainsAny(lit, "eE") {
		return lit
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return lit
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isTuple(v *Value) bool {
	if len(v.Items) != 2 {
		return false
	}
	for _, el := range v.Items {
		if el == nil || el.Kind == KindObject {
			return false
		}
	}
	return true
}

func allScalar(v *Value) bool {
	if len(v.Items) == 0 {
		return false
	}
	for _, el := range v.Items {
		if !el.IsScalar() {
			return false
		}
	}
	return true
}
