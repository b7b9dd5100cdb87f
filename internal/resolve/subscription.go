package resolve

import (
	"github.com/graphql-go/graphql"
	"github.com/rs/zerolog/log"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/cdc"
	"github.com/pgqlgate/pgqlgate/internal/database"
)

// ChangeSource provides per-table change streams. Implemented by
// cdc.Publisher; nil when change data capture is disabled.
type ChangeSource interface {
	Subscribe(table string) *cdc.Subscription
}

// ChangesSubscriber bridges a table's change stream into the GraphQL
// subscription executor. The returned channel closes when the client
// disconnects or the stream shuts down.
func (r *Resolvers) ChangesSubscriber(table catalog.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		if r.changes == nil {
			return nil, database.NewSubscriptionError("change data capture is not enabled")
		}

		sub := r.changes.Subscribe(table.Name)
		out := make(chan interface{})

		go func() {
			defer close(out)
			defer sub.Close()

			for {
				select {
				case <-p.Context.Done():
					return
				case event, ok := <-sub.C():
					if !ok {
						return
					}
					select {
					case out <- event.Payload():
					case <-p.Context.Done():
						return
					}
				}
			}
		}()

		log.Debug().Str("table", table.Name).Msg("Change subscription started")
		return out, nil
	}
}
