// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registrar

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	log "github.com/golang/glog"
)

// Attributes set by Cloud Storage Pub/Sub notifications.
const (
	eventTypeAttr  = "eventType"
	bucketIDAttr   = "bucketId"
	objectIDAttr   = "objectId"
	objectFinalize = "OBJECT_FINALIZE"
)

// NewReceiver returns a PubSub receiving function that ensures the external table
// of every descriptor whose location covers a newly landed object.
func NewReceiver(r *Registrar, descriptors []DatasetDescriptor) func(context.Context, *pubsub.Message) {
	return func(ctx context.Context, msg *pubsub.Message) {
		log.V(2).Infof("got PubSub message with ID: %q", msg.ID)

		if et := msg.Attributes[eventTypeAttr]; et != objectFinalize {
			log.V(2).Infof("ignoring %q event in message %q", et, msg.ID)
			msg.Ack()
			return
		}
		uri := fmt.Sprintf("gs://%s/%s", msg.Attributes[bucketIDAttr], msg.Attributes[objectIDAttr])

		ok := true
		matched := 0
		for _, d := range descriptors {
			if !d.MatchesObject(uri) {
				continue
			}
			if r.Filter != nil && !r.Filter.Apply(ctx, d) {
				continue
			}
			matched++
			if o := r.EnsureExternalTable(ctx, d); !o.OK() && transient(o.Err) {
				ok = false
			}
		}

		if !ok {
			log.Errorf("transient failure registering tables for %q; nacking message %q", uri, msg.ID)
			msg.Nack()
			return
		}
		if matched == 0 {
			log.Warningf("no descriptor covers landed object %q", uri)
		}
		log.V(2).Infof("acking PubSub message %q for %q", msg.ID, uri)
		msg.Ack()
	}
}

// transient reports whether a redelivery could succeed. Malformed descriptors and
// missing privileges fail the same way every time.
func transient(err error) bool {
	for _, kind := range []error{ErrInvalidIdentifier, ErrInvalidLocation, ErrInvalidFormat, ErrPermissionDenied} {
		if errors.Is(err, kind) {
			return false
		}
	}
	return true
}
