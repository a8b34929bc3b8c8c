package upstream

// swrrNode é um item do round robin ponderado suave.
type swrrNode[T any] struct {
	item    T
	weight  int
	current int
}

// swrr é o smooth weighted round robin (mesma sequência do nginx). Não é
// seguro para uso concorrente; ServerPool protege com mutex.
type swrr[T any] struct {
	nodes []*swrrNode[T]
}

func (s *swrr[T]) add(item T, weight int) {
	if weight <= 0 {
		weight = 1
	}
	s.nodes = append(s.nodes, &swrrNode[T]{item: item, weight: weight})
}

// next escolhe o próximo item entre os que passam em eligible.
// O total considera só os elegíveis, então um nó fora do ar não distorce a distribuição.
func (s *swrr[T]) next(eligible func(T) bool) (T, bool) {
	var zero T
	var best *swrrNode[T]
	total := 0
	for _, n := range s.nodes {
		if eligible != nil && !eligible(n.item) {
			continue
		}
		n.current += n.weight
		total += n.weight
		if best == nil || n.current > best.current {
			best = n
		}
	}
	if best == nil {
		return zero, false
	}
	best.current -= total
	return best.item, true
}
