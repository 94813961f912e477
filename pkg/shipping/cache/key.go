package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ItemTuple is the part of an item that can change a rate.
type ItemTuple struct {
	SKU      string
	Quantity int
	Volume   string
	Free     bool
}

func (t ItemTuple) String() string {
	return fmt.Sprintf("%s|%d|%s|%t", strings.ToUpper(strings.TrimSpace(t.SKU)), t.Quantity, t.Volume, t.Free)
}

// KeyInput is everything that goes into a content key. Fields is an explicit
// allow-list of context values; customer id must always be part of it.
type KeyInput struct {
	Items   []ItemTuple
	Address string
	Fields  map[string]string
}

type keyMaterial struct {
	Items   []string   `json:"items"`
	Address string     `json:"address"`
	Fields  [][]string `json:"fields"`
}

// Key derives the content hash used to address rate and quote entries.
// Item order and field order do not affect the key.
func Key(in KeyInput) string {
	items := make([]string, len(in.Items))
	for i, t := range in.Items {
		items[i] = t.String()
	}
	sort.Strings(items)

	names := make([]string, 0, len(in.Fields))
	for name := range in.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([][]string, len(names))
	for i, name := range names {
		fields[i] = []string{name, in.Fields[name]}
	}

	// Marshalling strings and string slices cannot fail.
	raw, _ := json.Marshal(keyMaterial{Items: items, Address: in.Address, Fields: fields})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Extend derives a key from a base key and extra discriminators.
func Extend(base string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(base))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
