package sandbox

import "time"

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// RefreshRequest is the body of POST /auth/refresh and POST /auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// TokenPair is returned by POST /auth/login.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// SubscriptionKeys are the client's encryption keys, standard base64.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh" binding:"required,base64"`
	Auth   string `json:"auth" binding:"required,base64"`
}

// SubscribeRequest is the body of POST /notifications/subscribe.
type SubscribeRequest struct {
	Endpoint   string           `json:"endpoint" binding:"required,url"`
	Keys       SubscriptionKeys `json:"keys" binding:"required"`
	DeviceInfo string           `json:"deviceInfo" binding:"omitempty,oneof=mobile desktop"`
}

// UnsubscribeRequest is the optional body of DELETE /notifications/unsubscribe.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// TestRequest is the body of POST /notifications/test. Every field is optional.
type TestRequest struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
	LeadID string `json:"leadId"`
}

// Subscription is a stored push subscription.
type Subscription struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Endpoint   string    `json:"endpoint"`
	P256dh     string    `json:"p256dh"`
	Auth       string    `json:"auth"`
	DeviceInfo string    `json:"deviceInfo,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
