package api

import v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"

type balanceResponse struct {
	UserID int64 `json:"user_id"`
	ChatID int64 `json:"chat_id"`
	Amount int   `json:"amount"`
}

type withdrawRequest struct {
	Amount int `json:"amount"`
}

type registerDeviceRequest struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
}

type deviceResponse struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
}

type lastMessagesResponse struct {
	Messages []v1.Message `json:"messages"`
}
