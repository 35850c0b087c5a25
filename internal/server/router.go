package server

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mauvedb/mauved/internal/backend"
	mauveerrors "github.com/mauvedb/mauved/internal/errors"
)

// Router dispatches wire requests against the backend. It owns the
// request-level semantics; framing and deadlines stay in the handler.
type Router struct {
	backend       *backend.Backend
	searchTimeout time.Duration
	tracer        trace.Tracer
}

func NewRouter(b *backend.Backend, searchTimeout time.Duration) *Router {
	return &Router{
		backend:       b,
		searchTimeout: searchTimeout,
		tracer:        otel.Tracer("github.com/mauvedb/mauved/internal/server"),
	}
}

// clientErrors are failures the client caused. They come back as error
// responses on a healthy connection instead of tearing it down.
var clientErrors = []error{
	mauveerrors.ErrObjectNotFound,
	mauveerrors.ErrObjectExists,
	mauveerrors.ErrObjectTooLarge,
	mauveerrors.ErrCollectionNotFound,
	mauveerrors.ErrCollectionRequired,
	mauveerrors.ErrObjectNameRequired,
	mauveerrors.ErrInvalidLabel,
	mauveerrors.ErrSearchLabelsRequired,
}

func isClientError(err error) bool {
	for _, sentinel := range clientErrors {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// Dispatch executes one request. The returned kind is KindNone for
// successes and client mistakes (the session continues),
// KindProtocolViolation for an unknown op, and KindHandlerError when the
// backend itself failed. Internal failures answer with a generic message;
// their detail stays in the log.
func (r *Router) Dispatch(ctx context.Context, req Request) (Response, ErrorKind, error) {
	ctx, span := r.tracer.Start(ctx, "mauved.dispatch", trace.WithAttributes(
		attribute.String("mauve.op", req.Op),
		attribute.String("mauve.collection", req.Collection),
	))
	defer span.End()

	resp, err := r.route(ctx, req)
	if err == nil {
		return resp, KindNone, nil
	}
	span.RecordError(err)
	switch {
	case errors.Is(err, mauveerrors.ErrUnknownOp):
		return errResponse(err), KindProtocolViolation, err
	case isClientError(err):
		return errResponse(err), KindNone, err
	default:
		return errResponse(errInternal), KindHandlerError, err
	}
}

// errInternal is what a handler failure looks like from the outside.
var errInternal = errors.New("mauve: internal error")

func (r *Router) route(ctx context.Context, req Request) (Response, error) {
	switch req.Op {
	case OpPing:
		resp := okResponse()
		resp.Pong = true
		return resp, nil

	case OpStatus:
		state, err := r.backend.Status(ctx)
		if err != nil {
			return Response{}, err
		}
		resp := okResponse()
		resp.Status = &state
		return resp, nil

	case OpHeadObject:
		coll, err := r.backend.Collection(ctx, req.Collection)
		if err != nil {
			return Response{}, err
		}
		found, err := coll.Head(ctx, req.Name)
		if err != nil {
			return Response{}, err
		}
		resp := okResponse()
		resp.Found = found
		return resp, nil

	case OpGetObject:
		coll, err := r.backend.Collection(ctx, req.Collection)
		if err != nil {
			return Response{}, err
		}
		obj, err := coll.Get(ctx, req.Name)
		if err != nil {
			return Response{}, err
		}
		resp := okResponse()
		resp.Data = obj.Object
		meta := obj.Meta
		resp.Meta = &meta
		return resp, nil

	case OpPutObject:
		labels, err := backend.ParseLabels(req.Labels)
		if err != nil {
			return Response{}, err
		}
		coll, err := r.backend.Collection(ctx, req.Collection)
		if err != nil {
			return Response{}, err
		}
		meta := backend.Metadata{
			ContentType:     req.ContentType,
			ContentEncoding: req.ContentEncoding,
			ContentLanguage: req.ContentLanguage,
			Labels:          labels,
		}
		name, err := coll.Put(ctx, req.Name, req.Data, meta, req.Replace)
		if err != nil {
			return Response{}, err
		}
		resp := okResponse()
		resp.Names = []string{name}
		return resp, nil

	case OpDeleteObject:
		coll, err := r.backend.Collection(ctx, req.Collection)
		if err != nil {
			return Response{}, err
		}
		old, err := coll.Delete(ctx, req.Name)
		if err != nil {
			return Response{}, err
		}
		resp := okResponse()
		resp.Found = old != nil
		return resp, nil

	case OpDescribeObject:
		coll, err := r.backend.Collection(ctx, req.Collection)
		if err != nil {
			return Response{}, err
		}
		meta, err := coll.Describe(ctx, req.Name)
		if err != nil {
			return Response{}, err
		}
		resp := okResponse()
		resp.Meta = &meta
		return resp, nil

	case OpListCollections:
		names, err := r.backend.ListCollections(ctx)
		if err != nil {
			return Response{}, err
		}
		resp := okResponse()
		resp.Collections = names
		return resp, nil

	case OpListObjects:
		coll, err := r.backend.Collection(ctx, req.Collection)
		if err != nil {
			return Response{}, err
		}
		names, err := coll.List(ctx, req.Prefix)
		if err != nil {
			return Response{}, err
		}
		resp := okResponse()
		resp.Names = names
		return resp, nil

	case OpDeleteCollection:
		if err := r.backend.DeleteCollection(ctx, req.Collection); err != nil {
			return Response{}, err
		}
		return okResponse(), nil

	case OpSearch:
		searchCtx, cancel := context.WithTimeout(ctx, r.searchTimeout)
		defer cancel()
		result, err := r.backend.Search(searchCtx, backend.SearchRequest{
			Collection: req.Collection,
			Include:    req.Include,
			Exclude:    req.Exclude,
		})
		if err != nil {
			return Response{}, err
		}
		resp := okResponse()
		resp.Objects = result.Objects
		return resp, nil

	default:
		return Response{}, mauveerrors.ErrUnknownOp
	}
}
