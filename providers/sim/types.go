package sim

import (
	"fmt"

	"github.com/converge-io/converge/internal/provider"
)

// typeDef describes one simulated resource type.
type typeDef struct {
	immutable []string
	cbd       bool
	// computed derives the provider-side attributes from the instance id
	// and the requested inputs.
	computed func(id string, attrs map[string]any) map[string]any
}

func arn(typ, id string) string {
	return fmt.Sprintf("arn:sim:%s/%s", typ, id)
}

// catalog is the fixed set of resource types the simulated cloud offers.
// Immutable attributes force replacement when changed; instance carries
// create-before-destroy so replacements keep a node running.
var catalog = map[string]typeDef{
	"vpc": {
		immutable: []string{"cidr_block"},
		computed: func(id string, attrs map[string]any) map[string]any {
			return map[string]any{
				"arn":                    arn("vpc", id),
				"default_route_table_id": id + "-rtb",
			}
		},
	},
	"subnet": {
		immutable: []string{"vpc_id", "cidr_block", "availability_zone"},
		computed: func(id string, attrs map[string]any) map[string]any {
			return map[string]any{"arn": arn("subnet", id)}
		},
	},
	"security_group": {
		immutable: []string{"vpc_id", "name"},
		computed: func(id string, attrs map[string]any) map[string]any {
			return map[string]any{"arn": arn("security_group", id)}
		},
	},
	"instance": {
		immutable: []string{"ami", "subnet_id"},
		cbd:       true,
		computed: func(id string, attrs map[string]any) map[string]any {
			n := seqOf(id)
			return map[string]any{
				"arn":        arn("instance", id),
				"private_ip": fmt.Sprintf("10.255.%d.%d", n/250, n%250),
			}
		},
	},
	"bucket": {
		immutable: []string{"bucket"},
		computed: func(id string, attrs map[string]any) map[string]any {
			name, _ := attrs["bucket"].(string)
			if name == "" {
				name = id
			}
			return map[string]any{
				"arn":      arn("bucket", id),
				"endpoint": name + ".s3.sim.internal",
			}
		},
	},
	"bucket_ownership_controls": {
		immutable: []string{"bucket"},
		computed: func(id string, attrs map[string]any) map[string]any {
			return map[string]any{"arn": arn("bucket_ownership_controls", id)}
		},
	},
	"load_balancer": {
		immutable: []string{"name", "type"},
		computed: func(id string, attrs map[string]any) map[string]any {
			return map[string]any{
				"arn":      arn("load_balancer", id),
				"dns_name": id + ".elb.sim.internal",
			}
		},
	},
	"database": {
		immutable: []string{"engine"},
		computed: func(id string, attrs map[string]any) map[string]any {
			return map[string]any{
				"arn":      arn("database", id),
				"endpoint": id + ".db.sim.internal:5432",
			}
		},
	},
	"queue": {
		immutable: []string{"name"},
		computed: func(id string, attrs map[string]any) map[string]any {
			return map[string]any{
				"arn": arn("queue", id),
				"url": "https://queue.sim.internal/" + id,
			}
		},
	},
	"topic": {
		immutable: []string{"name"},
		computed: func(id string, attrs map[string]any) map[string]any {
			return map[string]any{"arn": arn("topic", id)}
		},
	},
	"dns_zone": {
		immutable: []string{"name"},
		computed: func(id string, attrs map[string]any) map[string]any {
			return map[string]any{
				"arn":          arn("dns_zone", id),
				"name_servers": []any{"ns1.sim.internal", "ns2.sim.internal"},
			}
		},
	},
	"dns_record": {
		immutable: []string{"zone_id", "name", "type"},
		computed: func(id string, attrs map[string]any) map[string]any {
			return map[string]any{"arn": arn("dns_record", id)}
		},
	},
}

func lookupType(typ string) (typeDef, error) {
	def, ok := catalog[typ]
	if !ok {
		return typeDef{}, fmt.Errorf("sim: unknown resource type %q", typ)
	}
	return def, nil
}

func schemaFor(typ string) (provider.TypeSchema, error) {
	def, err := lookupType(typ)
	if err != nil {
		return provider.TypeSchema{}, err
	}
	return provider.TypeSchema{
		Type:                typ,
		Immutable:           append([]string(nil), def.immutable...),
		CreateBeforeDestroy: def.cbd,
	}, nil
}
