package nodes

import (
	"context"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/node"
)

// ItemHelper exposes the current item inside a per-item subgraph. It is
// never invoked through edges: the subgraph injects the item, its index and
// the first shared value of the producer, such as a root directory.
type ItemHelper struct {
	id     string
	schema node.Schema
}

func newItemHelper(_ Deps, config node.Config) (node.Node, error) {
	return &ItemHelper{
		id: config.ID,
		schema: node.Schema{
			ID:              TypeItemHelper,
			Name:            "Item",
			Kind:            node.KindIteratorHelper,
			Outputs:         []node.Port{{Name: "item"}, {Name: "index"}, {Name: "root", Optional: true}},
			IteratorOutputs: iterated(0, 1),
		},
	}, nil
}

func (h *ItemHelper) ID() string          { return h.id }
func (h *ItemHelper) Schema() node.Schema { return h.schema }

// Invoke fails: the helper only runs inside an iteration.
func (h *ItemHelper) Invoke(context.Context, node.Values) (node.Values, error) {
	return nil, derrors.Configuration(derrors.ErrInvalidArgument, "%s runs only inside an iteration", h.id)
}

// Inject returns the item, its index and the shared root. Single-value items
// are unwrapped.
func (h *ItemHelper) Inject(_ context.Context, inj graph.Injection) (node.Values, error) {
	var item any = inj.Item
	if len(inj.Item) == 1 {
		item = inj.Item[0]
	}
	return node.Values{item, inj.Index, first(inj.Extra)}, nil
}

var _ graph.Injector = (*ItemHelper)(nil)
