package queue

import (
	"testing"

	"github.com/rabbitmq/amqp091-go"
)

func TestRetries(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp091.Table
		want    int
	}{
		{"no headers", nil, 0},
		{"int32", amqp091.Table{"x-retries": int32(3)}, 3},
		{"int64 after a round trip", amqp091.Table{"x-retries": int64(4)}, 4},
		{"garbage", amqp091.Table{"x-retries": "seven"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retries(tt.headers); got != tt.want {
				t.Fatalf("Retries() = %d, want %d", got, tt.want)
			}
		})
	}
}
