package utils

import "github.com/mahirjain10/image-variants/internal/types"

const pattern = "status"

func InitStatusData(id string, userId string, status string, urls map[string]string, errs []string, errorMsg string) *types.StatusData {
	return &types.StatusData{ID: id, UserID: userId, Status: status, URLs: urls, Errors: errs, ErrorMsg: errorMsg}
}

func InitStatusMessage(data *types.StatusData) *types.StatusMessage {
	return &types.StatusMessage{Pattern: pattern, Data: *data}
}
