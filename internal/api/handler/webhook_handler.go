package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/d60-Lab/order-payments/internal/mpesa"
)

// 回调包体上限
const maxCallbackBody = 64 << 10

const schemaSTKCallback = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["Body"],
  "properties": {
    "Body": {
      "type": "object",
      "required": ["stkCallback"],
      "properties": {
        "stkCallback": {
          "type": "object",
          "required": ["CheckoutRequestID", "ResultCode"],
          "properties": {
            "MerchantRequestID": { "type": "string" },
            "CheckoutRequestID": { "type": "string", "minLength": 1 },
            "ResultCode": { "type": ["integer", "string"] },
            "ResultDesc": { "type": "string" },
            "CallbackMetadata": {
              "type": "object",
              "properties": {
                "Item": {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "required": ["Name"],
                    "properties": { "Name": { "type": "string" } }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

var stkCallbackLoader = gojsonschema.NewStringLoader(schemaSTKCallback)

// MpesaCallback 接收 STK Push 异步结果
// 无论处理成功与否都回 200 + 固定确认体，否则网关会反复重推
// @Summary M-Pesa STK 回调
// @Tags 支付
// @Accept json
// @Produce json
// @Success 200 {object} mpesa.Acknowledgement
// @Router /api/v1/payments/mpesa/callback [post]
func (h *Handler) MpesaCallback(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("mpesa callback panic", zap.Any("panic", r))
		}
		c.JSON(http.StatusOK, mpesa.Accepted)
	}()

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		h.log.Warn("mpesa callback read failed", zap.Error(err))
		return
	}
	if err := validateJSONSchema(stkCallbackLoader, raw); err != nil {
		h.log.Warn("mpesa callback rejected", zap.Error(err), zap.String("ip", c.ClientIP()))
		return
	}
	var cb mpesa.Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		h.log.Warn("mpesa callback decode failed", zap.Error(err))
		return
	}
	if err := h.callbacks.Reconcile(c.Request.Context(), cb.Body.STKCallback, raw); err != nil {
		h.log.Error("mpesa callback reconcile failed",
			zap.String("checkout_request_id", cb.Body.STKCallback.CheckoutRequestID),
			zap.Error(err))
	}
}

func validateJSONSchema(schemaLoader gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for _, e := range result.Errors() {
			sb.WriteString(e.String())
			sb.WriteString("; ")
		}
		return fmt.Errorf("callback does not conform to schema: %s", sb.String())
	}
	return nil
}
