// Copyright 2018-2024 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package events publishes Avro-encoded activity logs to Kafka for
// downstream consumers such as the audit trail.
package events

import (
	"context"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/hamba/avro/v2"
	"github.com/pkg/errors"
	kafka "github.com/segmentio/kafka-go"

	"github.com/PilotDataPlatform/upload/pkg/metadata"
)

// ActivityChange describes one mutated property of an item. Upload events
// carry an empty change list.
type ActivityChange struct {
	ItemProperty string `avro:"item_property"`
	OldValue     string `avro:"old_value"`
	NewValue     string `avro:"new_value"`
}

// ActivityLog is the wire form of one activity event, matching the
// metadata_items_activity Avro schema.
type ActivityLog struct {
	ActivityType   string           `avro:"activity_type"`
	ActivityTime   time.Time        `avro:"activity_time"`
	ItemID         string           `avro:"item_id"`
	ItemType       string           `avro:"item_type"`
	ItemName       string           `avro:"item_name"`
	ItemParentPath string           `avro:"item_parent_path"`
	ContainerCode  string           `avro:"container_code"`
	ContainerType  string           `avro:"container_type"`
	Zone           int              `avro:"zone"`
	User           string           `avro:"user"`
	ImportedFrom   string           `avro:"imported_from"`
	Changes        []ActivityChange `avro:"changes"`
}

// NewUploadActivity builds the activity log of a finished upload.
func NewUploadActivity(item metadata.Item, operator string) ActivityLog {
	return ActivityLog{
		ActivityType:   "upload",
		ActivityTime:   time.Now(),
		ItemID:         item.ID,
		ItemType:       item.Type,
		ItemName:       item.Name,
		ItemParentPath: item.ParentPath,
		ContainerCode:  item.ContainerCode,
		ContainerType:  item.ContainerType,
		Zone:           item.Zone,
		User:           operator,
		ImportedFrom:   "",
		Changes:        []ActivityChange{},
	}
}

// Producer serializes activity logs with a preloaded Avro schema and writes
// them to one Kafka topic.
type Producer struct {
	writer *kafka.Writer
	schema avro.Schema
}

// NewProducer loads the schema file and prepares a writer for the topic.
// The broker connection is established lazily on first publish.
func NewProducer(brokerAddr, topic, schemaPath string) (*Producer, error) {
	raw, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, errors.Wrapf(err, "events: could not read avro schema %s", schemaPath)
	}
	schema, err := avro.Parse(string(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "events: could not parse avro schema %s", schemaPath)
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokerAddr),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{writer: w, schema: schema}, nil
}

// Publish encodes the activity log and writes it to the topic, retrying
// transient broker failures with exponential backoff.
func (p *Producer) Publish(ctx context.Context, activity ActivityLog) error {
	value, err := avro.Marshal(p.schema, activity)
	if err != nil {
		return errors.Wrap(err, "events: error encoding activity log")
	}

	write := func() error {
		return p.writer.WriteMessages(ctx, kafka.Message{Value: value})
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(write, policy); err != nil {
		return errors.Wrap(err, "events: error publishing activity log")
	}
	return nil
}

// Close flushes and closes the Kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
