package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"buf.build/go/protovalidate"
	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/atlekbai/record_query/internal/dialect"
	"github.com/atlekbai/record_query/internal/schema"
	"github.com/atlekbai/record_query/internal/server"
)

func tasks() *schema.TableDomain {
	return schema.NewTableDomain("tblTasks", "Tasks", "tasks",
		&schema.Field{ID: "fldName", DBFieldName: "name", Type: schema.FieldSingleLineText, DBFieldType: schema.DbText},
		&schema.Field{ID: "fldAmount", DBFieldName: "amount", Type: schema.FieldNumber, DBFieldType: schema.DbReal},
	)
}

type staticSource []*schema.TableDomain

func (s staticSource) Fetch(context.Context) ([]*schema.TableDomain, error) { return s, nil }

func newService(t *testing.T) *QueryService {
	t.Helper()
	cache := schema.NewCacheFromTables(tasks())
	return NewQueryService(cache, staticSource{tasks(), schema.NewTableDomain("tblOther", "Other", "other")},
		dialect.New(dialect.Postgres), nil)
}

func compileRequest(t *testing.T, body map[string]any) *connect.Request[structpb.Struct] {
	t.Helper()
	msg, err := structpb.NewStruct(body)
	require.NoError(t, err)
	return connect.NewRequest(msg)
}

func TestCompile(t *testing.T) {
	svc := newService(t)
	resp, err := svc.Compile(context.Background(), compileRequest(t, map[string]any{
		"tableId":    "tblTasks",
		"projection": []any{"fldName"},
		"filter":     map[string]any{"fieldId": "fldName", "operator": "is", "value": "a"},
	}))
	require.NoError(t, err)

	out := resp.Msg.AsMap()
	assert.Equal(t,
		`SELECT "t"."__id", "t"."__auto_number", "t"."__created_time", "t"."__last_modified_time", "t"."name" AS "name" `+
			`FROM "tasks" AS "t" WHERE "t"."name" = $1 ORDER BY "t"."__auto_number" ASC`,
		out["sql"])
	assert.Equal(t, []any{"a"}, out["args"])
	assert.Equal(t, map[string]any{"fldName": `"t"."name"`}, out["selection"])
	assert.Equal(t, "canonical", out["mode"])
	assert.Equal(t, "postgres", out["dialect"])
}

func TestCompileKindsAndDialect(t *testing.T) {
	svc := newService(t)
	resp, err := svc.Compile(context.Background(), compileRequest(t, map[string]any{
		"kind":    "count",
		"dialect": "sqlite",
		"tableId": "tblTasks",
	}))
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "tasks" AS "t"`, resp.Msg.AsMap()["sql"])
	assert.Equal(t, "sqlite", resp.Msg.AsMap()["dialect"])

	resp, err = svc.Compile(context.Background(), compileRequest(t, map[string]any{
		"kind":              "aggregate",
		"tableId":           "tblTasks",
		"aggregationFields": []any{map[string]any{"fieldId": "fldAmount", "statistics": []any{"sum"}}},
	}))
	require.NoError(t, err)
	assert.Contains(t, resp.Msg.AsMap()["sql"], `AS "fldAmount_sum"`)
}

func TestCompileErrorCodes(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Compile(ctx, compileRequest(t, map[string]any{}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = svc.Compile(ctx, compileRequest(t, map[string]any{"tableId": "tblNope"}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = svc.Compile(ctx, compileRequest(t, map[string]any{"tableId": "tblTasks", "kind": "delete"}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = svc.Compile(ctx, compileRequest(t, map[string]any{"tableId": "tblTasks", "limit": "ten"}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestRefresh(t *testing.T) {
	svc := newService(t)
	resp, err := svc.Refresh(context.Background(), compileRequest(t, nil))
	require.NoError(t, err)
	assert.EqualValues(t, 2, resp.Msg.AsMap()["tables"])

	bare := NewQueryService(schema.NewCache(), nil, dialect.New(dialect.Postgres), nil)
	_, err = bare.Refresh(context.Background(), compileRequest(t, nil))
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}

func newServer(t *testing.T, logger *zap.Logger) *httptest.Server {
	t.Helper()
	validator, err := protovalidate.New()
	require.NoError(t, err)
	h, err := server.NewHandler(logger, []server.ConnectService{newService(t)},
		server.ValidationInterceptor(validator),
		server.LoggingInterceptor(logger),
	)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestCompileOverREST(t *testing.T) {
	srv := newServer(t, zap.NewNop())

	body := `{"tableId": "tblTasks", "projection": ["fldAmount"], "sort": [{"fieldId": "fldAmount", "order": "desc"}], "limit": 5}`
	resp, err := http.Post(srv.URL+"/v1/compile", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "__base", out["baseCte"])
	assert.Contains(t, out["sql"], `ORDER BY "t"."amount" DESC NULLS LAST, "t"."__auto_number" ASC LIMIT 5`)
}

func TestCompileOverConnect(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	srv := newServer(t, zap.New(core))

	client := connect.NewClient[structpb.Struct, structpb.Struct](http.DefaultClient, srv.URL+CompileProcedure)
	req := compileRequest(t, map[string]any{"tableId": "tblTasks"})
	req.Header().Set(server.RequestIDHeader, "req-1")

	resp, err := client.CallUnary(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.Header().Get(server.RequestIDHeader))
	assert.Contains(t, resp.Msg.AsMap()["sql"], `FROM "tasks" AS "t"`)

	calls := logs.FilterMessage("call").All()
	require.Len(t, calls, 1)
	assert.Equal(t, "req-1", calls[0].ContextMap()["request_id"])

	_, err = client.CallUnary(context.Background(), compileRequest(t, map[string]any{"tableId": "tblNope"}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	assert.Equal(t, 1, logs.FilterMessage("call failed").Len())
}
