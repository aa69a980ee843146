// pkg/kafka/interface.go
//
// Package kafka holds the messaging contract used by the relay. It does
// not import Sarama; the implementation lives in pkg/kafka/producer.
package kafka

import "context"

// Producer publishes records to Kafka.
type Producer interface {
	// Publish delivers one record according to the RequiredAcks policy,
	// retrying with back-off.
	Publish(ctx context.Context, topic string, key, value []byte) error
	// Ping refreshes cluster metadata to check reachability.
	Ping(ctx context.Context) error
	Close() error
}
