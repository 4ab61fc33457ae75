package utils

// Remove returns a copy of arr without any occurrence of item.
func Remove[T comparable](arr []T, item T) []T {
	result := make([]T, 0, len(arr))

	for _, i := range arr {
		if i != item {
			result = append(result, i)
		}
	}

	return result
}

// Unique returns arr without repeated items, keeping first occurrences.
func Unique[T comparable](arr []T) []T {
	seen := make(map[T]struct{}, len(arr))
	result := make([]T, 0, len(arr))

	for _, i := range arr {
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		result = append(result, i)
	}

	return result
}
