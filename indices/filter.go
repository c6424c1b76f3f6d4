package indices

import "strings"

// NonPortableSettings describe one index instance rather than its shape and
// are never archived.
var NonPortableSettings = []string{
	"index.creation_date",
	"index.uuid",
	"index.version",
	"index.provided_name",
	"index.frozen",
	"index.search.throttled",
	"index.query",
	"index.routing",
}

// FilterSettings returns a copy of settings without NonPortableSettings.
// Keys may be nested ({"index": {"uuid": ...}}), flat ({"index.uuid": ...})
// or a mix of both; a removed key takes its whole subtree with it.
func FilterSettings(settings map[string]interface{}) map[string]interface{} {
	out := copySettings(settings)
	for _, key := range NonPortableSettings {
		removePath(out, strings.Split(key, "."))
	}
	return out
}

func removePath(m map[string]interface{}, parts []string) {
	for i := 1; i <= len(parts); i++ {
		key := strings.Join(parts[:i], ".")
		if i == len(parts) {
			delete(m, key)
			for k := range m {
				if strings.HasPrefix(k, key+".") {
					delete(m, k)
				}
			}
			return
		}
		if sub, ok := m[key].(map[string]interface{}); ok {
			removePath(sub, parts[i:])
		}
	}
}

func copySettings(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]interface{}); ok {
			v = copySettings(sub)
		}
		out[k] = v
	}
	return out
}
