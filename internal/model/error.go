package model

import "errors"

var ErrorUserNotFound = errors.New("user not found")
var ErrorInvalidToken = errors.New("invalid token")
var ErrorEmptyContent = errors.New("empty message content")
var ErrorMessageNotFound = errors.New("message not found")
var ErrorStatusRegression = errors.New("message status may not regress")
