package errors

import "testing"

func TestFromStatusSuccess(t *testing.T) {
	for _, status := range []int{200, 201, 204, 299} {
		if err := FromStatus(status, nil, nil); err != nil {
			t.Errorf("FromStatus(%d) = %v, want nil", status, err)
		}
	}
}

func TestFromStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{400, BadRequest},
		{404, NotFound},
		{406, NotAcceptable},
		{408, RequestTimeout},
		{422, UnprocessableEntity},
		{403, ClientError},
		{500, InternalServerError},
		{503, InternalServerError},
	}
	for _, c := range cases {
		err := FromStatus(c.status, nil, nil)
		if err == nil {
			t.Fatalf("FromStatus(%d) = nil, want kind %v", c.status, c.kind)
		}
		if !Is(err, c.kind) {
			t.Errorf("FromStatus(%d): got kind %v, want %v", c.status, err.(*Error).Kind, c.kind)
		}
	}
}

func TestUnprocessableEntityCarriesBody(t *testing.T) {
	fields := map[string]any{"email": []string{"no se permiten .org"}}
	err := FromStatus(422, []byte(`{"errors":{"email":["no se permiten .org"]}}`), fields)
	be, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if be.Status != 422 {
		t.Errorf("Status = %d, want 422", be.Status)
	}
	if len(be.Fields) == 0 {
		t.Error("expected non-empty Fields")
	}
}
