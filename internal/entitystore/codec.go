package entitystore

import "encoding/json"

// encodeFields flattens an entity into hash fields: one field per top-level
// JSON key, each value JSON-encoded.
func encodeFields(entity any) (map[string]string, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, err
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(object))
	for key, value := range object {
		fields[key] = string(value)
	}
	return fields, nil
}

func decodeFields[T any](fields map[string]string) (T, error) {
	object := make(map[string]json.RawMessage, len(fields))
	for key, value := range fields {
		object[key] = json.RawMessage(value)
	}
	var entity T
	raw, err := json.Marshal(object)
	if err != nil {
		return entity, err
	}
	err = json.Unmarshal(raw, &entity)
	return entity, err
}

func encodeValue(entity any) (string, error) {
	raw, err := json.Marshal(entity)
	return string(raw), err
}

func decodeValue[T any](value string) (T, error) {
	var entity T
	err := json.Unmarshal([]byte(value), &entity)
	return entity, err
}
