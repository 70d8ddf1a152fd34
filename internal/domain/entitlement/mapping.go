package entitlement

import (
	"encoding/json"
	"sort"
)

// Row is one product entry as delivered by the mapping endpoint
type Row struct {
	ProductIdentifier string   `json:"product_identifier"`
	BasePlanID        string   `json:"base_plan_id,omitempty"`
	Entitlements      []string `json:"entitlements"`
}

// Key returns the product key the row applies to. Play Store subscriptions
// are keyed as "product:base_plan".
func (r Row) Key() string {
	if r.BasePlanID == "" {
		return r.ProductIdentifier
	}
	return r.ProductIdentifier + ":" + r.BasePlanID
}

// Mapping maps product identifiers to the entitlements they grant.
// It is immutable; Merge returns a new value.
type Mapping struct {
	products map[string][]string
}

// NewMapping builds a Mapping from rows. Rows for the same product are unioned.
func NewMapping(rows ...Row) Mapping {
	sets := make(map[string]map[string]struct{}, len(rows))
	for _, r := range rows {
		if r.ProductIdentifier == "" {
			continue
		}
		key := r.Key()
		set, ok := sets[key]
		if !ok {
			set = make(map[string]struct{}, len(r.Entitlements))
			sets[key] = set
		}
		for _, e := range r.Entitlements {
			if e != "" {
				set[e] = struct{}{}
			}
		}
	}
	return fromSets(sets)
}

// Merge returns the union of m and other. Entitlements are never dropped.
func (m Mapping) Merge(other Mapping) Mapping {
	sets := make(map[string]map[string]struct{}, len(m.products)+len(other.products))
	for _, src := range []map[string][]string{m.products, other.products} {
		for product, ents := range src {
			set, ok := sets[product]
			if !ok {
				set = make(map[string]struct{}, len(ents))
				sets[product] = set
			}
			for _, e := range ents {
				set[e] = struct{}{}
			}
		}
	}
	return fromSets(sets)
}

// EntitlementsFor returns the sorted entitlements granted by productID
func (m Mapping) EntitlementsFor(productID string) []string {
	ents := m.products[productID]
	out := make([]string, len(ents))
	copy(out, ents)
	return out
}

// ProductIDs returns every mapped product id, sorted
func (m Mapping) ProductIDs() []string {
	ids := make([]string, 0, len(m.products))
	for id := range m.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of mapped products
func (m Mapping) Len() int {
	return len(m.products)
}

// IsEmpty returns true if no product is mapped
func (m Mapping) IsEmpty() bool {
	return len(m.products) == 0
}

// Rows flattens the mapping back into rows sorted by product id
func (m Mapping) Rows() []Row {
	rows := make([]Row, 0, len(m.products))
	for _, id := range m.ProductIDs() {
		rows = append(rows, Row{ProductIdentifier: id, Entitlements: m.EntitlementsFor(id)})
	}
	return rows
}

// MarshalJSON encodes the mapping as {"products": {id: [entitlements]}}
func (m Mapping) MarshalJSON() ([]byte, error) {
	products := m.products
	if products == nil {
		products = map[string][]string{}
	}
	return json.Marshal(struct {
		Products map[string][]string `json:"products"`
	}{Products: products})
}

// UnmarshalJSON decodes the form written by MarshalJSON
func (m *Mapping) UnmarshalJSON(data []byte) error {
	var raw struct {
		Products map[string][]string `json:"products"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sets := make(map[string]map[string]struct{}, len(raw.Products))
	for product, ents := range raw.Products {
		set := make(map[string]struct{}, len(ents))
		for _, e := range ents {
			set[e] = struct{}{}
		}
		sets[product] = set
	}
	*m = fromSets(sets)
	return nil
}

func fromSets(sets map[string]map[string]struct{}) Mapping {
	products := make(map[string][]string, len(sets))
	for product, set := range sets {
		ents := make([]string, 0, len(set))
		for e := range set {
			ents = append(ents, e)
		}
		sort.Strings(ents)
		products[product] = ents
	}
	return Mapping{products: products}
}
