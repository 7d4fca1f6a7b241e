package pathfinder

import "strings"

// PrettifyName converts a model's internal "container:element.i.j" variable
// name into Stan's bracketed display form, "container[i,j].element" (spec
// §6). Names with no colon are converted in place: "theta.1.2" becomes
// "theta[1,2]". Names are returned unchanged when they contain no dots to
// convert.
func PrettifyName(name string) string {
	parts := strings.Split(name, ":")
	if len(parts) != 2 {
		converted := make([]string, len(parts))
		for i, p := range parts {
			converted[i] = convertSegment(p)
		}
		return strings.Join(converted, ".")
	}

	firstBase, firstIdx := splitBaseIndices(parts[0])
	secondBase, secondIdx := splitBaseIndices(parts[1])

	out := firstBase
	if len(secondIdx) > 0 {
		out += "[" + strings.Join(secondIdx, ",") + "]"
	}
	if len(firstIdx) > 0 {
		out += "[" + strings.Join(firstIdx, ",") + "]"
	}
	return out + "." + secondBase
}

func convertSegment(s string) string {
	base, idx := splitBaseIndices(s)
	if len(idx) == 0 {
		return base
	}
	return base + "[" + strings.Join(idx, ",") + "]"
}

func splitBaseIndices(s string) (base string, indices []string) {
	parts := strings.Split(s, ".")
	return parts[0], parts[1:]
}
