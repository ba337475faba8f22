package canonical_test

import (
	"sort"
	"testing"

	"github.com/jmerrifield20/AuditVault/internal/canonical"
	"github.com/jmerrifield20/AuditVault/internal/event"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// objectFrom builds an object Value from m with members in the requested
// key order.
func objectFrom(m map[string]int64, descending bool) (event.Value, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if descending {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	}
	members := make([]event.Member, 0, len(keys))
	for _, k := range keys {
		members = append(members, event.Member{Key: k, Value: event.Int(m[k])})
	}
	return event.Object(members...)
}

// TestHashDeterminism_memberOrder checks that the hash is independent of the
// order members were inserted in.
func TestHashDeterminism_memberOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	h := canonical.NewHasher()

	properties.Property("hash ignores member order", prop.ForAll(
		func(m map[string]int64) bool {
			asc, err := objectFrom(m, false)
			if err != nil {
				return false
			}
			desc, err := objectFrom(m, true)
			if err != nil {
				return false
			}
			h1, err1 := h.Hash(asc)
			h2, err2 := h.Hash(desc)
			return err1 == nil && err2 == nil && h1 == h2
		},
		gen.MapOf(gen.AlphaString(), gen.Int64Range(-1<<53+1, 1<<53-1)),
	))

	properties.TestingRun(t)
}

// TestHashDeterminism_repeatable checks the same event always hashes the same.
func TestHashDeterminism_repeatable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	h := canonical.NewHasher()

	properties.Property("hash is a pure function", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				obj[keys[i]] = values[i]
			}
			v, err := event.FromAny(obj)
			if err != nil {
				return false
			}
			h1, err1 := h.Hash(v)
			h2, err2 := canonical.NewHasher().Hash(v)
			return err1 == nil && err2 == nil && h1 == h2
		},
		gen.SliceOf(gen.AnyString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestHashSensitivity_singleValue checks that changing one value changes the hash.
func TestHashSensitivity_singleValue(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	h := canonical.NewHasher()

	properties.Property("changing a value changes the hash", prop.ForAll(
		func(key string, value string, suffix string) bool {
			a, err := event.Object(event.Member{Key: key, Value: event.String(value)})
			if err != nil {
				return false
			}
			b, err := event.Object(event.Member{Key: key, Value: event.String(value + suffix)})
			if err != nil {
				return false
			}
			h1, _ := h.Hash(a)
			h2, _ := h.Hash(b)
			return h1 != h2
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
	))

	properties.TestingRun(t)
}
