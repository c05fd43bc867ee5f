package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPServiceTransfer(t *testing.T) {
	var (
		got    transferBody
		auth   string
		status = http.StatusAccepted
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	svc := NewHTTPService(discardLogger(), NetworkConfig{TokenServiceURL: srv.URL + "/", TokenServiceToken: "tok"})
	req := TransferRequest{ID: "w1", TokenID: "token.near", Receiver: "alice.near", Amount: uint256.NewInt(1234)}

	require.NoError(t, svc.Transfer(context.Background(), req))
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, transferBody{ID: "w1", TokenID: "token.near", ReceiverID: "alice.near", Amount: "1234"}, got)

	testCases := []struct {
		status    int
		temporary bool
		rejected  bool
	}{
		{http.StatusOK, false, false},
		{http.StatusConflict, false, false},
		{http.StatusBadRequest, false, true},
		{http.StatusNotFound, false, true},
		{http.StatusTooManyRequests, true, false},
		{http.StatusBadGateway, true, false},
	}
	for _, tc := range testCases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			status = tc.status
			err := svc.Transfer(context.Background(), req)
			assert.Equal(t, tc.temporary, IsTemporary(err))
			if tc.rejected {
				assert.ErrorIs(t, err, ErrRejected)
			}
			if !tc.temporary && !tc.rejected {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHTTPServiceUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	svc := NewHTTPService(discardLogger(), NetworkConfig{TokenServiceURL: url})
	err := svc.Transfer(context.Background(), TransferRequest{ID: "w1", Amount: uint256.NewInt(1)})
	assert.True(t, IsTemporary(err))
}
