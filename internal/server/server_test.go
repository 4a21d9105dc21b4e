package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/quarrylabs/quarry/internal/core"
)

func TestStatusForDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{core.Validationf("bad cursor"), http.StatusBadRequest},
		{fmt.Errorf("lookup: %w", core.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("upsert: %w", core.ErrConflict), http.StatusConflict},
		{fmt.Errorf("cache: %w", core.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{&core.TransientProviderError{Provider: "graph", Err: fmt.Errorf("timeout")}, http.StatusServiceUnavailable},
		{fmt.Errorf("something else"), http.StatusInternalServerError},
		{echo.NewHTTPError(http.StatusTeapot, "short and stout"), http.StatusTeapot},
	}
	for i, tc := range cases {
		code, msg := statusFor(tc.err)
		if code != tc.want {
			t.Fatalf("case %d: got %d, want %d", i, code, tc.want)
		}
		if msg == "" {
			t.Fatalf("case %d: empty message", i)
		}
	}
}
