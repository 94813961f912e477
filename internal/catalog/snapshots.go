package catalog

import (
	"context"
	"sort"

	"github.com/tournevent/shiprate/pkg/shipping"
)

// Snapshots serves fixed cart and order snapshots.
type Snapshots struct {
	carts  map[string]shipping.CartSnapshot
	orders map[string]shipping.OrderSnapshot
}

// NewSnapshots indexes carts by name and orders by id.
func NewSnapshots(carts []shipping.CartSnapshot, orders []shipping.OrderSnapshot) *Snapshots {
	s := &Snapshots{
		carts:  make(map[string]shipping.CartSnapshot, len(carts)),
		orders: make(map[string]shipping.OrderSnapshot, len(orders)),
	}
	for _, c := range carts {
		s.carts[c.Name] = c
	}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

// Cart returns the named cart.
func (s *Snapshots) Cart(_ context.Context, name string) (*shipping.CartSnapshot, error) {
	c, ok := s.carts[name]
	if !ok {
		return nil, nil
	}
	c.Items = append([]shipping.ShippableItem(nil), c.Items...)
	return &c, nil
}

// Order returns the order with the given id.
func (s *Snapshots) Order(_ context.Context, id string) (*shipping.OrderSnapshot, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	o.Items = append([]shipping.ShippableItem(nil), o.Items...)
	return &o, nil
}

// CartNames returns the names of every cart.
func (s *Snapshots) CartNames() []string {
	names := make([]string, 0, len(s.carts))
	for name := range s.carts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	_ shipping.CartSource  = (*Snapshots)(nil)
	_ shipping.OrderSource = (*Snapshots)(nil)
)
