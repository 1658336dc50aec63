package data

import "time"

type Topic struct {
	Id         string    `json:"topicId"`
	Name       string    `json:"name"`
	CreateTime time.Time `json:"createTime"`
}
