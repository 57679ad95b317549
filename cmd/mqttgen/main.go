package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wearwatch/services"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	rps        = flag.Int("rps", 1, "Batches per second")
	devices    = flag.Int("devices", 3, "Number of simulated devices")
	seed       = flag.Int64("seed", 0, "Random seed (0 = time based)")
	mqttBroker = flag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
	mqttTopic  = flag.String("topic", "home/living_room/env/telemetry", "Telemetry topic")
	alertTopic = flag.String("alert-topic", "home/user_belt/safety/alert", "Topic for fall-level readings")

	displayMsg   = flag.String("display", "", "Send this text to the bedside display once and exit")
	displayColor = flag.String("color", "white", "Display text color")
	displayTopic = flag.String("display-topic", "home/bedside/comm/display", "Bedside display topic")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *rps < 1 {
		logger.Fatal("rps must be at least 1", zap.Int("rps", *rps))
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	logger.Info("MQTT telemetry generator started",
		zap.Int("devices", *devices),
		zap.Int("rps", *rps),
		zap.String("mqtt_broker", *mqttBroker),
		zap.String("mqtt_topic", *mqttTopic),
		zap.String("alert_topic", *alertTopic),
	)
	logger.Info("Press Ctrl+C to stop gracefully")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
	opts.SetClientID(fmt.Sprintf("wearwatch-generator-%d", os.Getpid()))
	if *mqttUser != "" {
		opts.SetUsername(*mqttUser)
		opts.SetPassword(*mqttPass)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer client.Disconnect(250)

	if *displayMsg != "" {
		payload, err := services.DisplayPayload(*displayMsg, *displayColor)
		if err != nil {
			logger.Fatal("Failed to marshal display message", zap.Error(err))
		}
		if token := client.Publish(*displayTopic, 1, false, payload); token.Wait() && token.Error() != nil {
			logger.Fatal("Failed to publish display message", zap.Error(token.Error()))
		}
		logger.Info("Display message sent", zap.String("topic", *displayTopic), zap.ByteString("data", payload))
		return
	}

	sim := services.NewSimulator(*devices, time.Second, *seed, services.DefaultSchema(), logger)
	threshold := services.DefaultThresholds().FallAccel

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping generator")
		cancel()
	}()

	interval := time.Second / time.Duration(*rps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	messageCount := 0
	fallCount := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(startTime)
			logger.Info("Shutting down gracefully",
				zap.Int("total_messages", messageCount),
				zap.Int("falls_generated", fallCount),
				zap.Duration("total_uptime", elapsed),
			)
			return

		case now := <-ticker.C:
			for _, reading := range sim.Generate(now) {
				topic := *mqttTopic
				if accel, ok := reading["accel"].(float64); ok && accel >= threshold {
					topic = *alertTopic
					fallCount++
				}

				payload, err := json.Marshal(reading)
				if err != nil {
					logger.Error("Failed to marshal reading", zap.Error(err))
					continue
				}

				token := client.Publish(topic, 0, false, payload)
				if token.Wait() && token.Error() != nil {
					logger.Error("Failed to publish MQTT message",
						zap.Error(token.Error()),
						zap.Int("message_count", messageCount))
					continue
				}
				messageCount++

				logger.Debug("Published MQTT message",
					zap.String("topic", topic),
					zap.ByteString("data", payload))
			}

			if messageCount > 0 && messageCount%100 == 0 {
				logger.Info("MQTT messages published",
					zap.Int("count", messageCount),
					zap.Int("falls", fallCount),
					zap.Float64("rate", float64(messageCount)/time.Since(startTime).Seconds()),
				)
			}
		}
	}
}
