package services

import "time"

// inLocation переводит показания base в часовой пояс loc. Календарные
// проверки (срок купона, «сегодня» для статусов и истечения) берут дату
// из этого пояса.
func inLocation(base func() time.Time, loc *time.Location) func() time.Time {
	if loc == nil {
		return base
	}
	return func() time.Time { return base().In(loc) }
}

// WithLocation задаёт часовой пояс, в котором считается текущая дата.
func (s *CatalogService) WithLocation(loc *time.Location) *CatalogService {
	s.now = inLocation(s.now, loc)
	return s
}

// WithLocation задаёт часовой пояс, в котором считается текущая дата.
func (s *CouponService) WithLocation(loc *time.Location) *CouponService {
	s.now = inLocation(s.now, loc)
	return s
}

// WithLocation задаёт часовой пояс, в котором считается текущая дата.
func (s *CartService) WithLocation(loc *time.Location) *CartService {
	s.now = inLocation(s.now, loc)
	return s
}

// WithLocation задаёт часовой пояс, в котором считается текущая дата.
func (s *CheckoutService) WithLocation(loc *time.Location) *CheckoutService {
	s.now = inLocation(s.now, loc)
	return s
}

// WithLocation задаёт часовой пояс, в котором считается текущая дата.
func (s *PricingService) WithLocation(loc *time.Location) *PricingService {
	s.now = inLocation(s.now, loc)
	return s
}
