package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"connectrpc.com/connect"
	lru "github.com/hashicorp/golang-lru"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/dexflow/analysis"
	"github.com/chazu/dexflow/dex"
)

// ServiceName is the fully qualified name of the query service.
const ServiceName = "dexflow.v1.AnalysisService"

// Procedure paths, shared by the Connect handlers and the gRPC service.
const (
	ListMethodsProcedure     = "/" + ServiceName + "/ListMethods"
	GetMethodProcedure       = "/" + ServiceName + "/GetMethod"
	BlockContainingProcedure = "/" + ServiceName + "/BlockContaining"
	GetClassProcedure        = "/" + ServiceName + "/GetClass"
	DisassembleProcedure     = "/" + ServiceName + "/Disassemble"
)

// AnalysisServer is the transport-independent query interface. Requests and
// responses are google.protobuf.Struct messages.
type AnalysisServer interface {
	ListMethods(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMethod(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BlockContaining(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetClass(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Disassemble(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// AnalysisService answers queries against an analysis.Index. Errors are
// *connect.Error values carrying the status code.
type AnalysisService struct {
	index *analysis.Index
	cache *lru.Cache // method signature -> rendered summary
}

var _ AnalysisServer = (*AnalysisService)(nil)

// NewAnalysisService creates an AnalysisService caching up to cacheSize
// rendered method summaries.
func NewAnalysisService(idx *analysis.Index, cacheSize int) (*AnalysisService, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &AnalysisService{index: idx, cache: cache}, nil
}

// Purge drops every cached response.
func (s *AnalysisService) Purge() {
	s.cache.Purge()
}

// ListMethods returns the signatures of analysed methods, optionally
// restricted to one class.
func (s *AnalysisService) ListMethods(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	class := stringField(req, "class")
	var names []any
	for _, ma := range s.index.Methods() {
		if class != "" && !strings.HasPrefix(ma.Name(), class+"->") {
			continue
		}
		names = append(names, ma.Name())
	}
	resp, err := structpb.NewStruct(map[string]any{"methods": names})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return resp, nil
}

// GetMethod returns the summary of one method.
func (s *AnalysisService) GetMethod(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sig := stringField(req, "method")
	if sig == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("method is required"))
	}
	if cached, ok := s.cache.Get(sig); ok {
		return cached.(*structpb.Struct), nil
	}

	ma, err := s.lookup(sig)
	if err != nil {
		return nil, err
	}
	resp, err := toStruct(ma.Summary())
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	s.cache.Add(sig, resp)
	return resp, nil
}

// BlockContaining returns the block of a method whose range contains offset.
func (s *AnalysisService) BlockContaining(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sig := stringField(req, "method")
	if sig == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("method is required"))
	}
	off, err := offsetField(req, "offset")
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	ma, err := s.lookup(sig)
	if err != nil {
		return nil, err
	}
	b, ok := ma.BlockContaining(off)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound,
			fmt.Errorf("no block of %s contains 0x%x", sig, off))
	}
	resp, err := toStruct(b.Summary())
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return resp, nil
}

// GetClass returns a class's name, superclass and interfaces.
func (s *AnalysisService) GetClass(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := stringField(req, "name")
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required"))
	}
	c, ok := s.index.Class(name)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("class %q not found", name))
	}

	ifaces := make([]any, len(c.Interfaces()))
	for i, n := range c.Interfaces() {
		ifaces[i] = n
	}
	methods := make([]any, len(c.Methods()))
	for i, m := range c.Methods() {
		methods[i] = m.String()
	}
	resp, err := structpb.NewStruct(map[string]any{
		"name":       c.Name(),
		"superclass": c.Superclass(),
		"interfaces": ifaces,
		"methods":    methods,
		"interface":  c.IsInterface(),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return resp, nil
}

// Disassemble returns the instruction listing of one method.
func (s *AnalysisService) Disassemble(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sig := stringField(req, "method")
	if sig == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("method is required"))
	}
	ma, err := s.lookup(sig)
	if err != nil {
		return nil, err
	}
	resp, err := structpb.NewStruct(map[string]any{
		"method":  sig,
		"listing": dex.Disassemble(sig, ma.Instructions()),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return resp, nil
}

// lookup maps a signature to its analysis, or to NotFound or
// FailedPrecondition.
func (s *AnalysisService) lookup(sig string) (*analysis.MethodAnalysis, error) {
	if ma, ok := s.index.LookupName(sig); ok {
		return ma, nil
	}
	m, ok := s.index.Method(sig)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("method %q not found", sig))
	}
	if cause := s.index.Failure(m); cause != nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, cause)
	}
	return nil, connect.NewError(connect.CodeFailedPrecondition,
		fmt.Errorf("%w: %s", analysis.ErrEmptyMethodBody, sig))
}

// ---- Struct helpers ----

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func offsetField(req *structpb.Struct, name string) (int, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%s is required", name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	f := n.NumberValue
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %v", name, f)
	}
	return int(f), nil
}

// toStruct converts a json-tagged value to a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}
