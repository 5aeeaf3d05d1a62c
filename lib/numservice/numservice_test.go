package numservice

import (
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/service"
	"math"
	"testing"
)

// TestHandlers tests both methods through the service table
func TestHandlers(t *testing.T) {
	svc := NewService()

	tests := []struct {
		method string
		a, b   int64
		want   int64
	}{
		{"add", 3, 4, 7},
		{"add", -3, 3, 0},
		{"minus", 3, 4, -1},
		{"minus", math.MinInt64 + 1, 1, math.MinInt64},
	}

	for _, tt := range tests {
		md, ok := svc.Method(tt.method)
		if !ok {
			t.Fatalf("Method %s not found", tt.method)
		}
		m := svc.Methods[md.Index]

		req, resp := m.NewRequest().(*NumRequest), m.NewResponse().(*NumResponse)
		req.Input1, req.Input2 = tt.a, tt.b

		ctrl := common.NewController()
		m.Handler(ctrl, req, resp)
		if ctrl.Failed() {
			t.Errorf("%s(%d, %d) failed: %v", tt.method, tt.a, tt.b, ctrl.Err())
		}
		if resp.Output != tt.want {
			t.Errorf("%s(%d, %d) = %d, expected %d", tt.method, tt.a, tt.b, resp.Output, tt.want)
		}
	}
}

// TestDescriptors tests the method indices clients put on the wire
func TestDescriptors(t *testing.T) {
	if AddMethod.Service != ServiceName || AddMethod.Index != 0 {
		t.Errorf("Unexpected add descriptor %s", AddMethod)
	}
	if MinusMethod.Service != ServiceName || MinusMethod.Index != 1 {
		t.Errorf("Unexpected minus descriptor %s", MinusMethod)
	}

	b := service.NewBuilder()
	if err := b.Register(NewService()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, ok := b.Build().Lookup(ServiceName, MinusMethod.Index); !ok {
		t.Error("minus not found in registry")
	}
}

// TestBinaryEncoding tests the hand written encodings
func TestBinaryEncoding(t *testing.T) {
	in := NumRequest{Input1: -42, Input2: math.MaxInt64}
	b, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	var out NumRequest
	if err := out.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if out != in {
		t.Errorf("Expected %+v, got %+v", in, out)
	}

	var resp NumResponse
	if err := resp.UnmarshalBinary(b); err == nil {
		t.Error("UnmarshalBinary should reject a request sized body")
	}
}
