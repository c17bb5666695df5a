package repository

// Collection 以 id 为键、保持插入顺序的实体集合
type Collection[T any] struct {
	items []T
	index map[string]int
	idOf  func(T) string
}

// NewCollection 创建集合
func NewCollection[T any](idOf func(T) string, items []T) *Collection[T] {
	c := &Collection[T]{idOf: idOf}
	c.Replace(items)
	return c
}

// Replace 整体替换集合内容；重复 id 保留最后一个
func (c *Collection[T]) Replace(items []T) {
	c.items = make([]T, 0, len(items))
	c.index = make(map[string]int, len(items))
	for _, item := range items {
		c.Put(item)
	}
}

// All 返回按存储顺序的副本
func (c *Collection[T]) All() []T {
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Len 元素个数
func (c *Collection[T]) Len() int {
	return len(c.items)
}

// Get 按 id 查找，不存在时返回 false
func (c *Collection[T]) Get(id string) (T, bool) {
	if i, ok := c.index[id]; ok {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Has 是否存在
func (c *Collection[T]) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Put 新增或原位替换
func (c *Collection[T]) Put(item T) {
	id := c.idOf(item)
	if i, ok := c.index[id]; ok {
		c.items[i] = item
		return
	}
	c.index[id] = len(c.items)
	c.items = append(c.items, item)
}

// Update 原位修改，返回修改后的值
func (c *Collection[T]) Update(id string, fn func(*T)) (T, bool) {
	i, ok := c.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	fn(&c.items[i])
	return c.items[i], true
}

// Delete 按 id 删除
func (c *Collection[T]) Delete(id string) bool {
	removed := c.DeleteWhere(func(item T) bool { return c.idOf(item) == id })
	return len(removed) > 0
}

// DeleteWhere 删除满足条件的元素，返回被删除的元素
func (c *Collection[T]) DeleteWhere(pred func(T) bool) []T {
	var removed []T
	kept := c.items[:0]
	for _, item := range c.items {
		if pred(item) {
			removed = append(removed, item)
			continue
		}
		kept = append(kept, item)
	}
	if len(removed) == 0 {
		return nil
	}
	// 清掉尾部残留引用
	var zero T
	for i := len(kept); i < len(c.items); i++ {
		c.items[i] = zero
	}
	c.items = kept
	c.reindex()
	return removed
}

// Filter 返回满足条件的元素（存储顺序）
func (c *Collection[T]) Filter(pred func(T) bool) []T {
	out := []T{}
	for _, item := range c.items {
		if pred(item) {
			out = append(out, item)
		}
	}
	return out
}

func (c *Collection[T]) reindex() {
	c.index = make(map[string]int, len(c.items))
	for i, item := range c.items {
		c.index[c.idOf(item)] = i
	}
}
