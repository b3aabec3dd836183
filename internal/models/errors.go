package models

import "formation-booking/internal/apperror"

var (
	// ErrCouponExhausted возвращается, когда лимит использований купона исчерпан.
	ErrCouponExhausted = apperror.InvalidState("coupon usage limit reached", nil)
	// ErrEmptyCart возвращается при оформлении пустого раздела корзины.
	ErrEmptyCart = apperror.InvalidState("cart is empty", nil)
)
