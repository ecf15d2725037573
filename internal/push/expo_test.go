package push

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient(DefaultEndpoint, time.Second)
	httpmock.ActivateNonDefault(c.http)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func okResponse() map[string]any {
	return map[string]any{
		"data": map[string]any{"status": "ok", "id": "0f37b0f0-0000-0000-0000-000000000000"},
	}
}

func errorResponse(code, message string) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"status":  "error",
			"message": message,
			"details": map[string]any{"error": code},
		},
	}
}

func TestSendDelivered(t *testing.T) {
	c := newMockedClient(t)

	var captured Message
	httpmock.RegisterResponder(http.MethodPost, DefaultEndpoint,
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&captured))
			return httpmock.NewJsonResponse(http.StatusOK, okResponse())
		})

	receipt, err := c.Send(context.Background(), Message{
		To:    "ExponentPushToken[abc]",
		Title: "Drowsiness Alert!",
		Body:  "Possible drowsiness detected. Please consider taking a break.",
		Data:  map[string]any{"alertType": "drowsiness"},
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, receipt.Outcome)
	assert.Empty(t, receipt.Detail)

	assert.Equal(t, "ExponentPushToken[abc]", captured.To)
	assert.Equal(t, "default", captured.Sound, "sound defaults when unset")
	assert.Equal(t, "Drowsiness Alert!", captured.Title)
}

func TestSendDeviceNotRegistered(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, DefaultEndpoint,
		httpmock.NewJsonResponderOrPanic(http.StatusOK,
			errorResponse("DeviceNotRegistered", `"ExponentPushToken[gone]" is not a registered push notification recipient`)))

	receipt, err := c.Send(context.Background(), Message{To: "ExponentPushToken[gone]", Title: "t", Body: "b"})

	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidTarget, receipt.Outcome)
	assert.Contains(t, receipt.Detail, "not a registered")
}

func TestSendProviderError(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, DefaultEndpoint,
		httpmock.NewJsonResponderOrPanic(http.StatusOK,
			errorResponse("MessageTooBig", "message exceeds the maximum size")))

	receipt, err := c.Send(context.Background(), Message{To: "ExponentPushToken[abc]", Title: "t", Body: "b"})

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, receipt.Outcome)
	assert.Contains(t, receipt.Detail, "maximum size")
}

func TestSendHTTPStatusError(t *testing.T) {
	c := newMockedClient(t)

	for _, status := range []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusInternalServerError} {
		httpmock.RegisterResponder(http.MethodPost, DefaultEndpoint,
			httpmock.NewStringResponder(status, "nope"))

		receipt, err := c.Send(context.Background(), Message{To: "ExponentPushToken[abc]", Title: "t", Body: "b"})
		require.Error(t, err)
		assert.Equal(t, OutcomeFailed, receipt.Outcome)
	}
}

func TestSendTransportError(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, DefaultEndpoint,
		httpmock.NewErrorResponder(context.DeadlineExceeded))

	receipt, err := c.Send(context.Background(), Message{To: "ExponentPushToken[abc]", Title: "t", Body: "b"})
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, receipt.Outcome)
}

func TestSendHonorsContext(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, DefaultEndpoint,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, okResponse()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Send(ctx, Message{To: "ExponentPushToken[abc]", Title: "t", Body: "b"})
	require.Error(t, err)
}
