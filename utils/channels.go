package utils

import "log"

// ConsumeChannel drains c until it is closed. Used in defers so producers
// streaming from the database never block on an abandoned consumer.
func ConsumeChannel[T any](c <-chan T) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		log.Println("Failed to consume channel:", err)
	}()
	for range c {
	}
}
