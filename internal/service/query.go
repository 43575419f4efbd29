package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"go.uber.org/zap"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/atlekbai/record_query/internal/dialect"
	"github.com/atlekbai/record_query/internal/query"
	"github.com/atlekbai/record_query/internal/schema"
)

// Statement kinds accepted by Compile.
const (
	KindQuery     = "query"
	KindCount     = "count"
	KindAggregate = "aggregate"
)

// CompileRequest is the Struct payload of Compile: a query descriptor plus
// the statement kind and an optional dialect override.
type CompileRequest struct {
	Kind    string `json:"kind,omitempty"`
	Dialect string `json:"dialect,omitempty"`
	query.Descriptor
}

// QueryService compiles record queries over the metadata cache.
type QueryService struct {
	cache   *schema.Cache
	source  schema.Source
	dialect dialect.Dialect
	logger  *zap.Logger
}

func NewQueryService(cache *schema.Cache, source schema.Source, d dialect.Dialect, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{cache: cache, source: source, dialect: d, logger: logger}
}

func (s *QueryService) RegisterHandler(interceptors ...connect.Interceptor) (protoreflect.ServiceDescriptor, http.Handler) {
	methods := queryServiceSchema.Methods()
	opts := func(name protoreflect.Name) []connect.HandlerOption {
		return []connect.HandlerOption{
			connect.WithInterceptors(interceptors...),
			connect.WithSchema(methods.ByName(name)),
		}
	}

	mux := http.NewServeMux()
	mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, s.Compile, opts("Compile")...))
	mux.Handle(RefreshProcedure, connect.NewUnaryHandler(RefreshProcedure, s.Refresh, opts("Refresh")...))
	return queryServiceSchema, mux
}

func (s *QueryService) Compile(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	in, err := decodeCompileRequest(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	d := s.dialect
	if in.Dialect != "" {
		d = dialect.New(in.Dialect)
	}
	svc := query.NewService(s.cache, d, s.logger)

	var st *query.Statement
	switch in.Kind {
	case "", KindQuery:
		st, err = svc.CreateQueryBuilder(ctx, &in.Descriptor)
	case KindCount:
		st, err = svc.CreateCountBuilder(ctx, &in.Descriptor)
	case KindAggregate:
		st, err = svc.CreateAggregateBuilder(ctx, &in.Descriptor)
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown statement kind %q", in.Kind))
	}
	if err != nil {
		return nil, compileError(err)
	}

	out, err := StatementStruct(st)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

func (s *QueryService) Refresh(ctx context.Context, _ *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	if s.source == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("no metadata source configured"))
	}
	if err := s.cache.Refresh(ctx, s.source); err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	out, err := structpb.NewStruct(map[string]any{"tables": s.cache.TableCount()})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

func decodeCompileRequest(msg *structpb.Struct) (*CompileRequest, error) {
	raw, err := msg.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	var in CompileRequest
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &in, nil
}

func compileError(err error) error {
	switch {
	case errors.Is(err, query.ErrMissingTable):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, schema.ErrTableNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// StatementStruct renders a compiled statement as {sql, args, selection, mode, ctes, baseCte}.
func StatementStruct(st *query.Statement) (*structpb.Struct, error) {
	sql, args, err := st.ToSql()
	if err != nil {
		return nil, fmt.Errorf("render statement: %w", err)
	}

	argValues := make([]any, len(args))
	for i, a := range args {
		if _, err := structpb.NewValue(a); err != nil {
			a = fmt.Sprint(a)
		}
		argValues[i] = a
	}
	selection := make(map[string]any)
	for id, expr := range st.Selection().Entries() {
		selection[id] = expr
	}
	ctes := make([]any, 0)
	for _, name := range st.CTEs() {
		ctes = append(ctes, name)
	}

	return structpb.NewStruct(map[string]any{
		"sql":       sql,
		"args":      argValues,
		"selection": selection,
		"mode":      string(st.Mode()),
		"dialect":   st.Dialect(),
		"ctes":      ctes,
		"baseCte":   st.BaseCTE(),
	})
}
