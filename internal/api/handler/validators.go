package handler

import (
	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/order-payments/internal/model"
	"github.com/d60-Lab/order-payments/internal/mpesa"
)

// RegisterValidators 注册自定义 binding 规则：payment_method、ke_phone
func RegisterValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
		return model.PaymentMethod(fl.Field().String()).Valid()
	}); err != nil {
		return err
	}
	return v.RegisterValidation("ke_phone", func(fl validator.FieldLevel) bool {
		_, err := mpesa.NormalizePhone(fl.Field().String())
		return err == nil
	})
}
