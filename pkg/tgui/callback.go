package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "group:action[:payload]".
func Data(group, action, payload string) (string, error) {
	s := strings.TrimSpace(group) + ":" + strings.TrimSpace(action)
	if payload != "" {
		s += ":" + payload
	}
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// MustData is Data for compile-time constant inputs; it panics on overflow.
func MustData(group, action, payload string) string {
	s, err := Data(group, action, payload)
	if err != nil {
		panic(err)
	}
	return s
}
