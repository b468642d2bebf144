package orchestrator

import (
	"context"
	"encoding/json"

	"facekiosk/internal/models"
)

// Recognize sends a face image for identification at the configured branch.
func (c *Client) Recognize(ctx context.Context, imageBase64 string) (*models.Response, error) {
	req := models.RecognizeRequest{
		ImageData: imageBase64,
		BranchID:  c.settings.BranchID(ctx),
	}
	return c.sendTyped(ctx, Recognize, req.Payload())
}

// Register enrolls a new customer together with their first order.
func (c *Client) Register(ctx context.Context, imageBase64, customerName, orderDetails string) (*models.Response, error) {
	req := models.RegisterRequest{
		ImageData:    imageBase64,
		CustomerName: customerName,
		OrderDetails: orderDetails,
		BranchID:     c.settings.BranchID(ctx),
	}
	return c.sendTyped(ctx, Register, req.Payload())
}

func (c *Client) sendTyped(ctx context.Context, rt RequestType, payload map[string]any) (*models.Response, error) {
	res, err := c.Send(ctx, rt, payload)
	if err != nil {
		return nil, err
	}
	var out models.Response
	if err := json.Unmarshal(res.Raw, &out); err != nil {
		endpoint, _ := rt.Endpoint()
		rc := &requestContext{id: res.RequestID, typ: string(rt), endpoint: endpoint}
		return nil, c.fail(rc, &RequestError{
			Kind:    KindProtocol,
			Status:  res.Status,
			Message: "response does not match the expected shape",
			Err:     err,
		}, nil)
	}
	if out.RequestID == "" {
		out.RequestID = res.RequestID
	}
	return &out, nil
}
