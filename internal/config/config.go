// Package config provides configuration parsing and validation for the
// worker and dispatcher services.
package config

import (
	"fmt"
	"time"
)

// WorkerConfig holds all configuration parameters for the worker service.
type WorkerConfig struct {
	KafkaBrokers        string
	CommunicationTopics string // comma-separated, one consumer per category topic
	ConsumerGroupID     string
	PostgresDSN         string
	RedisAddr           string
	OpenAIAPIKey        string
	ReasoningModel      string
	ReasoningTimeout    time.Duration
	ReasoningRate       float64 // calls per second across all workers, 0 disables
	MaxWorkers          int
}

// Validate checks that all required configuration fields are set and have
// valid values.
func (c *WorkerConfig) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.CommunicationTopics == "" {
		return fmt.Errorf("communication-topics cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("openai-api-key cannot be empty")
	}
	if c.ReasoningTimeout <= 0 {
		return fmt.Errorf("reasoning-timeout must be > 0")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max-workers must be > 0")
	}
	if c.MaxWorkers > 50 {
		return fmt.Errorf("max-workers must be at most 50")
	}
	return nil
}

// DispatcherConfig holds all configuration parameters for the dispatcher
// service.
type DispatcherConfig struct {
	KafkaBrokers  string
	DeliveryTopic string
	PostgresDSN   string
	RedisAddr     string
	Interval      time.Duration
	NumShards     int
}

// Validate checks that all required configuration fields are set and have
// valid values.
func (c *DispatcherConfig) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.DeliveryTopic == "" {
		return fmt.Errorf("delivery-topic cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if c.NumShards <= 0 {
		return fmt.Errorf("num-shards must be > 0")
	}
	return nil
}
