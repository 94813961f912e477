package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gql "github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
)

// Request is a GraphQL-over-HTTP request body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Execute parses the query and resolves every root field of the selected
// query operation. Field errors are reported per field; the other fields
// still resolve.
func (r *Resolver) Execute(ctx context.Context, req Request) *gql.Response {
	start := time.Now()
	status := "success"
	defer func() {
		if r.Metrics != nil {
			r.Metrics.RecordRequest("graphql", status, time.Since(start).Seconds())
		}
	}()

	doc, err := parser.ParseQuery(&ast.Source{Input: req.Query})
	if err != nil {
		status = "error"
		return &gql.Response{Errors: gqlerror.List{gqlerror.Wrap(err)}}
	}

	op, err := selectOperation(doc, req.OperationName)
	if err != nil {
		status = "error"
		return &gql.Response{Errors: gqlerror.List{gqlerror.Wrap(err)}}
	}

	data := make(map[string]any, len(op.SelectionSet))
	var errs gqlerror.List
	for _, sel := range op.SelectionSet {
		field, ok := sel.(*ast.Field)
		if !ok {
			errs = append(errs, gqlerror.Errorf("fragments are not supported at the root"))
			continue
		}
		key := responseKey(field)
		value, err := r.resolveField(ctx, field, req.Variables)
		if err != nil {
			errs = append(errs, &gqlerror.Error{
				Message: err.Error(),
				Path:    ast.Path{ast.PathName(key)},
			})
			data[key] = nil
			continue
		}
		data[key] = value
	}
	if len(errs) > 0 {
		status = "error"
	}

	raw, err := json.Marshal(data)
	if err != nil {
		status = "error"
		return &gql.Response{Errors: gqlerror.List{gqlerror.Wrap(err)}}
	}
	return &gql.Response{Data: raw, Errors: errs}
}

func selectOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	var op *ast.OperationDefinition
	switch {
	case name != "":
		op = doc.Operations.ForName(name)
		if op == nil {
			return nil, fmt.Errorf("unknown operation %q", name)
		}
	case len(doc.Operations) == 1:
		op = doc.Operations[0]
	default:
		return nil, fmt.Errorf("operationName is required when the document has %d operations", len(doc.Operations))
	}
	if op.Operation != ast.Query {
		return nil, fmt.Errorf("%s operations are not supported", op.Operation)
	}
	return op, nil
}

func (r *Resolver) resolveField(ctx context.Context, field *ast.Field, vars map[string]any) (any, error) {
	args, err := argumentValues(field, vars)
	if err != nil {
		return nil, err
	}

	switch field.Name {
	case "health":
		return r.Health(ctx), nil
	case "shippingCarriers":
		return r.ShippingCarriers(ctx), nil
	case "shippingOptions":
		options, err := r.ShippingOptions(ctx, ShippingOptionsArgs{
			Cart:            stringArg(args, "cart"),
			Order:           stringArg(args, "order"),
			Currency:        stringArg(args, "currency"),
			SessionID:       stringArg(args, "sessionId"),
			TaxInclusive:    boolArg(args, "taxInclusive"),
			Admin:           boolArg(args, "admin"),
			IncludeDisabled: boolArg(args, "includeDisabled"),
			ErrorsFirst:     boolArg(args, "errorsFirst"),
		})
		if err != nil {
			return nil, err
		}
		return project(options, field.SelectionSet)
	default:
		return nil, fmt.Errorf("unknown field %q", field.Name)
	}
}
